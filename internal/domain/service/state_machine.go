package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EngineState represents the discrete states of the RLM iteration loop.
type EngineState string

const (
	StateStarting         EngineState = "starting"
	StateAwaitingDriver   EngineState = "awaiting_driver"
	StateExecutingBlocks  EngineState = "executing_blocks"
	StateAwaitingSubcall  EngineState = "awaiting_subcall"
	StateVerifying        EngineState = "verifying"
	StateTerminalOK       EngineState = "terminal:ok"
	StateTerminalError    EngineState = "terminal:error"
	StateTerminalCancel   EngineState = "terminal:cancelled"
	StateTerminalBudget   EngineState = "terminal:budget_exhausted"
)

// validTransitions defines the allowed state transitions, per §4.D of the
// engine design: starting -> awaiting_driver on message assembly;
// awaiting_driver -> executing_blocks on a code-block response, or ->
// verifying on FINAL; executing_blocks <-> awaiting_subcall during
// sub-LLM calls; executing_blocks -> awaiting_driver once all blocks in
// a response complete; any state -> terminal:cancelled on signal;
// verifying -> terminal:ok always.
var validTransitions = map[EngineState]map[EngineState]bool{
	StateStarting: {
		StateAwaitingDriver: true,
		StateTerminalCancel: true,
	},
	StateAwaitingDriver: {
		StateExecutingBlocks: true,
		StateVerifying:       true,
		StateTerminalError:   true,
		StateTerminalCancel:  true,
		StateTerminalBudget:  true,
	},
	StateExecutingBlocks: {
		StateAwaitingSubcall: true,
		StateAwaitingDriver:  true,
		StateVerifying:       true,
		StateTerminalError:   true,
		StateTerminalCancel:  true,
	},
	StateAwaitingSubcall: {
		StateExecutingBlocks: true,
		StateTerminalError:   true,
		StateTerminalCancel:  true,
	},
	StateVerifying: {
		StateTerminalOK:     true,
		StateTerminalCancel: true,
	},
	// Terminal states — no transitions out.
	StateTerminalOK:     {},
	StateTerminalError:  {},
	StateTerminalCancel: {},
	StateTerminalBudget: {},
}

// StateSnapshot captures the engine's runtime state at a point in time.
type StateSnapshot struct {
	State         EngineState   `json:"state"`
	Iteration     int           `json:"iteration"`
	MaxIterations int           `json:"max_iterations"`
	TokensUsed    int           `json:"tokens_used"`
	SubcallsMade  int           `json:"subcalls_made"`
	RetryCount    int           `json:"retry_count"`
	ErrorCount    int           `json:"error_count"`
	Elapsed       time.Duration `json:"elapsed"`
	ModelUsed     string        `json:"model_used,omitempty"`
}

// StateMachine manages state transitions for one query's iteration loop.
// Thread-safe — multiple goroutines can read state concurrently (a
// listener may run on a different goroutine than the mutator).
type StateMachine struct {
	mu            sync.RWMutex
	state         EngineState
	iteration     int
	maxIterations int
	tokensUsed    int
	subcallsMade  int
	retryCount    int
	errorCount    int
	startTime     time.Time
	modelUsed     string
	logger        *zap.Logger

	listeners []func(from, to EngineState, snap StateSnapshot)
}

// NewStateMachine creates a state machine starting in "starting".
func NewStateMachine(maxIterations int, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		state:         StateStarting,
		maxIterations: maxIterations,
		startTime:     time.Now(),
		logger:        logger,
	}
}

// State returns the current state (thread-safe).
func (sm *StateMachine) State() EngineState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a full copy of the current runtime state.
func (sm *StateMachine) Snapshot() StateSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() StateSnapshot {
	return StateSnapshot{
		State:         sm.state,
		Iteration:     sm.iteration,
		MaxIterations: sm.maxIterations,
		TokensUsed:    sm.tokensUsed,
		SubcallsMade:  sm.subcallsMade,
		RetryCount:    sm.retryCount,
		ErrorCount:    sm.errorCount,
		Elapsed:       time.Since(sm.startTime),
		ModelUsed:     sm.modelUsed,
	}
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not in validTransitions.
func (sm *StateMachine) Transition(to EngineState) error {
	sm.mu.Lock()
	from := sm.state

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid state transition: %s -> %s", from, to)
		sm.logger.Error("state machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to EngineState, snap StateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("iteration", snap.Iteration),
	)

	for _, fn := range listeners {
		fn(from, to, snap)
	}

	return nil
}

// OnTransition registers a listener called on every state change.
func (sm *StateMachine) OnTransition(fn func(from, to EngineState, snap StateSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// --- Mutation helpers (all thread-safe) ---

// SetIteration updates the current iteration counter.
func (sm *StateMachine) SetIteration(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.iteration = n
}

// AddTokens increments the token counter.
func (sm *StateMachine) AddTokens(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tokensUsed += n
}

// RecordSubcall records one sub-LLM invocation.
func (sm *StateMachine) RecordSubcall() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subcallsMade++
}

// RecordRetry increments the retry counter.
func (sm *StateMachine) RecordRetry() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount++
}

// RecordError increments the error counter.
func (sm *StateMachine) RecordError() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errorCount++
}

// SetModel sets the model identifier.
func (sm *StateMachine) SetModel(model string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.modelUsed = model
}

// IsTerminal returns true if the state machine is in a terminal state.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	switch sm.state {
	case StateTerminalOK, StateTerminalError, StateTerminalCancel, StateTerminalBudget:
		return true
	}
	return false
}

// IterationBudgetExceeded reports whether the iteration counter has hit
// the configured ceiling.
func (sm *StateMachine) IterationBudgetExceeded() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.maxIterations > 0 && sm.iteration >= sm.maxIterations
}
