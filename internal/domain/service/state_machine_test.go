package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// === StateMachine creation ===

func TestNewStateMachine(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	if sm.State() != StateStarting {
		t.Errorf("expected initial state starting, got %s", sm.State())
	}
	if sm.IsTerminal() {
		t.Error("new state machine should not be terminal")
	}
	snap := sm.Snapshot()
	if snap.MaxIterations != 10 {
		t.Errorf("expected MaxIterations=10, got %d", snap.MaxIterations)
	}
}

// === Valid transitions ===

func TestTransition_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []EngineState
	}{
		{
			name: "starting -> awaiting_driver -> verifying -> terminal:ok",
			path: []EngineState{StateAwaitingDriver, StateVerifying, StateTerminalOK},
		},
		{
			name: "starting -> awaiting_driver -> executing_blocks -> awaiting_driver -> verifying -> terminal:ok",
			path: []EngineState{StateAwaitingDriver, StateExecutingBlocks, StateAwaitingDriver, StateVerifying, StateTerminalOK},
		},
		{
			name: "executing_blocks <-> awaiting_subcall round trip",
			path: []EngineState{StateAwaitingDriver, StateExecutingBlocks, StateAwaitingSubcall, StateExecutingBlocks, StateAwaitingDriver, StateVerifying, StateTerminalOK},
		},
		{
			name: "starting -> awaiting_driver -> terminal:budget_exhausted",
			path: []EngineState{StateAwaitingDriver, StateTerminalBudget},
		},
		{
			name: "starting -> terminal:cancelled",
			path: []EngineState{StateTerminalCancel},
		},
		{
			name: "awaiting_driver -> terminal:error",
			path: []EngineState{StateAwaitingDriver, StateTerminalError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(25, testLogger())
			for _, state := range tt.path {
				if err := sm.Transition(state); err != nil {
					t.Fatalf("failed transition to %s: %v", state, err)
				}
			}
			last := tt.path[len(tt.path)-1]
			if sm.State() != last {
				t.Errorf("expected state %s, got %s", last, sm.State())
			}
		})
	}
}

// === Invalid transitions ===

func TestTransition_InvalidPaths(t *testing.T) {
	tests := []struct {
		name string
		prep []EngineState
		to   EngineState
	}{
		{"starting -> terminal:ok directly", nil, StateTerminalOK},
		{"starting -> executing_blocks directly", nil, StateExecutingBlocks},
		{"awaiting_driver -> awaiting_subcall directly", []EngineState{StateAwaitingDriver}, StateAwaitingSubcall},
		{"terminal:ok -> starting (terminal)", []EngineState{StateAwaitingDriver, StateVerifying, StateTerminalOK}, StateAwaitingDriver},
		{"terminal:cancelled -> awaiting_driver (terminal)", []EngineState{StateTerminalCancel}, StateAwaitingDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(10, testLogger())
			for _, s := range tt.prep {
				_ = sm.Transition(s)
			}
			if err := sm.Transition(tt.to); err == nil {
				t.Errorf("expected error transitioning to %s, got nil", tt.to)
			}
		})
	}
}

// === Terminal states ===

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		prep     []EngineState
		terminal bool
	}{
		{"starting", nil, false},
		{"awaiting_driver", []EngineState{StateAwaitingDriver}, false},
		{"executing_blocks", []EngineState{StateAwaitingDriver, StateExecutingBlocks}, false},
		{"terminal:ok", []EngineState{StateAwaitingDriver, StateVerifying, StateTerminalOK}, true},
		{"terminal:error", []EngineState{StateAwaitingDriver, StateTerminalError}, true},
		{"terminal:cancelled", []EngineState{StateTerminalCancel}, true},
		{"terminal:budget_exhausted", []EngineState{StateAwaitingDriver, StateTerminalBudget}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(10, testLogger())
			for _, s := range tt.prep {
				_ = sm.Transition(s)
			}
			if sm.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal(): got %v, want %v", sm.IsTerminal(), tt.terminal)
			}
		})
	}
}

// === Mutation helpers ===

func TestMutationHelpers(t *testing.T) {
	sm := NewStateMachine(10, testLogger())

	sm.SetIteration(5)
	sm.AddTokens(1000)
	sm.AddTokens(500)
	sm.RecordSubcall()
	sm.RecordSubcall()
	sm.RecordRetry()
	sm.RecordError()
	sm.SetModel("gpt-4o")

	snap := sm.Snapshot()
	if snap.Iteration != 5 {
		t.Errorf("Iteration: got %d, want 5", snap.Iteration)
	}
	if snap.TokensUsed != 1500 {
		t.Errorf("TokensUsed: got %d, want 1500", snap.TokensUsed)
	}
	if snap.SubcallsMade != 2 {
		t.Errorf("SubcallsMade: got %d, want 2", snap.SubcallsMade)
	}
	if snap.RetryCount != 1 {
		t.Errorf("RetryCount: got %d, want 1", snap.RetryCount)
	}
	if snap.ErrorCount != 1 {
		t.Errorf("ErrorCount: got %d, want 1", snap.ErrorCount)
	}
	if snap.ModelUsed != "gpt-4o" {
		t.Errorf("ModelUsed: got %s, want gpt-4o", snap.ModelUsed)
	}
	if snap.Elapsed <= 0 {
		t.Error("Elapsed should be positive")
	}
}

// === OnTransition listener ===

func TestOnTransitionListener(t *testing.T) {
	sm := NewStateMachine(10, testLogger())

	var transitions []struct{ from, to EngineState }
	sm.OnTransition(func(from, to EngineState, snap StateSnapshot) {
		transitions = append(transitions, struct{ from, to EngineState }{from, to})
	})

	_ = sm.Transition(StateAwaitingDriver)
	_ = sm.Transition(StateExecutingBlocks)
	_ = sm.Transition(StateAwaitingDriver)
	_ = sm.Transition(StateVerifying)
	_ = sm.Transition(StateTerminalOK)

	if len(transitions) != 5 {
		t.Fatalf("expected 5 transitions, got %d", len(transitions))
	}
	expected := []struct{ from, to EngineState }{
		{StateStarting, StateAwaitingDriver},
		{StateAwaitingDriver, StateExecutingBlocks},
		{StateExecutingBlocks, StateAwaitingDriver},
		{StateAwaitingDriver, StateVerifying},
		{StateVerifying, StateTerminalOK},
	}
	for i, exp := range expected {
		if transitions[i].from != exp.from || transitions[i].to != exp.to {
			t.Errorf("transition[%d]: got %s->%s, want %s->%s",
				i, transitions[i].from, transitions[i].to, exp.from, exp.to)
		}
	}
}

// === Thread safety ===

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	sm := NewStateMachine(100, testLogger())
	_ = sm.Transition(StateAwaitingDriver)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.State()
			_ = sm.Snapshot()
			_ = sm.IsTerminal()
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sm.AddTokens(100)
			sm.SetIteration(n)
			sm.RecordSubcall()
		}(i)
	}
	wg.Wait()

	snap := sm.Snapshot()
	if snap.TokensUsed != 2000 {
		t.Errorf("concurrent TokensUsed: got %d, want 2000", snap.TokensUsed)
	}
	if snap.SubcallsMade != 20 {
		t.Errorf("concurrent SubcallsMade: got %d, want 20", snap.SubcallsMade)
	}
}

// === Snapshot isolation ===

func TestSnapshot_Isolation(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	sm.SetIteration(3)
	sm.AddTokens(500)

	snap1 := sm.Snapshot()

	sm.SetIteration(8)
	sm.AddTokens(1000)

	snap2 := sm.Snapshot()

	if snap1.Iteration != 3 || snap1.TokensUsed != 500 {
		t.Error("snap1 was mutated after capture")
	}
	if snap2.Iteration != 8 || snap2.TokensUsed != 1500 {
		t.Errorf("snap2 wrong: iteration=%d tokens=%d", snap2.Iteration, snap2.TokensUsed)
	}
}

// === Elapsed increases ===

func TestSnapshot_ElapsedIncreases(t *testing.T) {
	sm := NewStateMachine(10, testLogger())
	snap1 := sm.Snapshot()
	time.Sleep(5 * time.Millisecond)
	snap2 := sm.Snapshot()
	if snap2.Elapsed <= snap1.Elapsed {
		t.Errorf("elapsed should increase: %v <= %v", snap2.Elapsed, snap1.Elapsed)
	}
}

// === Iteration budget ===

func TestIterationBudgetExceeded(t *testing.T) {
	sm := NewStateMachine(3, testLogger())
	if sm.IterationBudgetExceeded() {
		t.Error("fresh machine should not be over budget")
	}
	sm.SetIteration(3)
	if !sm.IterationBudgetExceeded() {
		t.Error("iteration == max should be over budget")
	}
}
