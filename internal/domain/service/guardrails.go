package service

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Guardrail sentinel errors.
var (
	ErrTokenBudgetExceeded = fmt.Errorf("token budget exceeded")
	ErrTimeBudgetExceeded  = fmt.Errorf("run time budget exceeded")
	ErrContextOverflow     = fmt.Errorf("context window overflow")
)

// CostGuard tracks token/time usage across a query's iterations. It is a
// soft signal for logging and metrics — the engine's authoritative
// termination mechanism is the hard iteration budget (§4.D), not this
// guard — but CheckBudget lets an operator cap a runaway query by wall
// clock independently of iteration count. Token spend past maxTokens is
// reported and logged by AddTokens; the engine does not stop a query for it.
// Thread-safe — can be safely read from multiple goroutines.
type CostGuard struct {
	maxTokens     int64
	currentTokens atomic.Int64
	maxDuration   time.Duration
	startTime     time.Time
	logger        *zap.Logger
}

// NewCostGuard creates a cost guard for the current query.
func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	return &CostGuard{
		maxTokens:   maxTokens,
		maxDuration: maxDuration,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// AddTokens accumulates token usage; returns error if budget exceeded.
func (g *CostGuard) AddTokens(n int64) error {
	current := g.currentTokens.Add(n)
	if g.maxTokens > 0 && current > g.maxTokens {
		g.logger.Warn("token budget exceeded",
			zap.Int64("current", current),
			zap.Int64("max", g.maxTokens),
		)
		return ErrTokenBudgetExceeded
	}
	return nil
}

// CheckBudget returns error if the time budget has been exceeded.
func (g *CostGuard) CheckBudget() error {
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return ErrTimeBudgetExceeded
	}
	return nil
}

// GetUsage returns current token count and elapsed time.
func (g *CostGuard) GetUsage() (tokens int64, elapsed time.Duration) {
	return g.currentTokens.Load(), time.Since(g.startTime)
}

// ContextGuard estimates driver-conversation token usage so the engine
// can warn when per-iteration feedback messages are approaching a
// provider's context window, even though the engine itself never
// compacts history mid-query (every iteration's feedback is appended,
// per §4.D's message composition rules).
type ContextGuard struct {
	maxTokens int
	warnRatio float64
	hardRatio float64
	logger    *zap.Logger
}

// NewContextGuard creates a context window guard.
func NewContextGuard(maxTokens int, warnRatio, hardRatio float64, logger *zap.Logger) *ContextGuard {
	return &ContextGuard{
		maxTokens: maxTokens,
		warnRatio: warnRatio,
		hardRatio: hardRatio,
		logger:    logger,
	}
}

// ContextCheckResult holds the result of a context window check.
type ContextCheckResult struct {
	EstimatedTokens int
	MaxTokens       int
	Ratio           float64
	NeedCompaction  bool // hard threshold exceeded
	Warning         bool // warn threshold exceeded
}

// Check estimates token usage for LLMMessages.
func (g *ContextGuard) Check(messages []LLMMessage) ContextCheckResult {
	estimated := g.estimateTokens(messages)
	ratio := float64(estimated) / float64(g.maxTokens)

	result := ContextCheckResult{
		EstimatedTokens: estimated,
		MaxTokens:       g.maxTokens,
		Ratio:           ratio,
	}

	if ratio > g.hardRatio {
		result.NeedCompaction = true
		g.logger.Warn("context window exceeds hard threshold",
			zap.Int("tokens", estimated),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
		)
	} else if ratio > g.warnRatio {
		result.Warning = true
		g.logger.Info("context window approaching limit",
			zap.Int("tokens", estimated),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
		)
	}

	return result
}

// estimateTokens roughly estimates token count.
// Heuristic: ~3 chars/token (blend of English ~4, CJK ~2).
func (g *ContextGuard) estimateTokens(messages []LLMMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 3
		for _, p := range msg.Parts {
			if p.Type == "text" {
				total += len(p.Text) / 3
			} else {
				total += 85
			}
		}
	}
	total += len(messages) * 4
	return total
}

// LoopDetector flags a driver that keeps emitting the same `repl` code
// block verbatim — the RLM analogue of a tool-calling agent stuck
// retrying the same call. It never terminates the loop itself; it
// returns a reflection prompt for injection into the next user-role
// feedback message, letting the driver self-correct. The iteration
// budget remains the engine's authoritative, hard termination path.
type LoopDetector struct {
	recentBlocks []string
	windowSize   int
	threshold    int // consecutive identical blocks before reflection

	logger *zap.Logger
}

// NewLoopDetector creates a loop detector over a sliding window of
// recently executed code blocks.
func NewLoopDetector(windowSize, threshold int, logger *zap.Logger) *LoopDetector {
	return &LoopDetector{
		recentBlocks: make([]string, 0, windowSize),
		windowSize:   windowSize,
		threshold:    threshold,
		logger:       logger,
	}
}

// Record adds an executed code block to the sliding window and returns a
// non-empty reflection prompt if the exact same source text appears
// threshold times consecutively.
func (d *LoopDetector) Record(code string) string {
	d.recentBlocks = append(d.recentBlocks, code)
	if len(d.recentBlocks) > d.windowSize {
		d.recentBlocks = d.recentBlocks[1:]
	}

	if len(d.recentBlocks) < d.threshold {
		return ""
	}

	tail := d.recentBlocks[len(d.recentBlocks)-d.threshold:]
	allSame := true
	for _, c := range tail {
		if c != tail[0] {
			allSame = false
			break
		}
	}

	if allSame {
		d.logger.Warn("repeated identical code block detected",
			zap.Int("consecutive", d.threshold),
		)
		return fmt.Sprintf(
			"[SYSTEM] The last %d code blocks you submitted were identical. "+
				"Re-running unchanged code will not produce a different result. "+
				"Change your approach: inspect intermediate state, query a sub-LLM, "+
				"or emit FINAL(...) with your best answer from what you already have.",
			d.threshold,
		)
	}
	return ""
}

// Reset clears all tracking state (call at the start of each query).
func (d *LoopDetector) Reset() {
	d.recentBlocks = d.recentBlocks[:0]
}
