package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// EngineHook defines lifecycle hooks for extending the RLM iteration loop.
// All methods are optional — embed NoOpHook to only implement what you need.
// Hooks execute synchronously; keep them fast to avoid blocking the loop.
type EngineHook interface {
	// BeforeDriverCall is called before each driver LLM request.
	// The hook can modify the request (e.g., inject metadata).
	BeforeDriverCall(ctx context.Context, req *LLMRequest, iteration int)

	// AfterDriverCall is called after each successful driver LLM response.
	AfterDriverCall(ctx context.Context, resp *LLMResponse, iteration int)

	// BeforeCodeBlock is called before a `repl` code block is sent to the
	// sandbox executor. Return false to skip execution (e.g., for a
	// policy hook that rejects certain code shapes).
	BeforeCodeBlock(ctx context.Context, code string, iteration int) bool

	// AfterCodeBlock is called after a code block finishes executing.
	AfterCodeBlock(ctx context.Context, code string, output string, success bool)

	// BeforeSubcall is called before a sandboxed llm_query/llm_query_batched
	// call is forwarded to the sub-LLM gateway. Return false to veto it.
	BeforeSubcall(ctx context.Context, instruction string, contentLen int) bool

	// AfterSubcall is called after a sub-LLM call completes.
	AfterSubcall(ctx context.Context, instruction string, output string, success bool)

	// OnError is called when an error occurs in the loop.
	OnError(ctx context.Context, err error, iteration int)

	// OnComplete is called when the loop reaches a terminal state.
	OnComplete(ctx context.Context, result *entity.QueryResult)

	// OnStateChange is called on each state machine transition.
	OnStateChange(from, to EngineState, snap StateSnapshot)
}

// NoOpHook provides a default no-op implementation of all hooks.
// Embed this in your custom hook to only override methods you care about.
type NoOpHook struct{}

func (NoOpHook) BeforeDriverCall(_ context.Context, _ *LLMRequest, _ int)        {}
func (NoOpHook) AfterDriverCall(_ context.Context, _ *LLMResponse, _ int)        {}
func (NoOpHook) BeforeCodeBlock(_ context.Context, _ string, _ int) bool         { return true }
func (NoOpHook) AfterCodeBlock(_ context.Context, _ string, _ string, _ bool)    {}
func (NoOpHook) BeforeSubcall(_ context.Context, _ string, _ int) bool           { return true }
func (NoOpHook) AfterSubcall(_ context.Context, _ string, _ string, _ bool)      {}
func (NoOpHook) OnError(_ context.Context, _ error, _ int)                       {}
func (NoOpHook) OnComplete(_ context.Context, _ *entity.QueryResult)             {}
func (NoOpHook) OnStateChange(_, _ EngineState, _ StateSnapshot)                 {}

// HookChain aggregates multiple hooks — all hooks are called in order.
type HookChain struct {
	hooks []EngineHook
}

// NewHookChain creates a hook chain from the given hooks.
func NewHookChain(hooks ...EngineHook) *HookChain {
	return &HookChain{hooks: hooks}
}

// Add appends a hook to the chain.
func (c *HookChain) Add(h EngineHook) {
	c.hooks = append(c.hooks, h)
}

func (c *HookChain) BeforeDriverCall(ctx context.Context, req *LLMRequest, iteration int) {
	for _, h := range c.hooks {
		h.BeforeDriverCall(ctx, req, iteration)
	}
}

func (c *HookChain) AfterDriverCall(ctx context.Context, resp *LLMResponse, iteration int) {
	for _, h := range c.hooks {
		h.AfterDriverCall(ctx, resp, iteration)
	}
}

func (c *HookChain) BeforeCodeBlock(ctx context.Context, code string, iteration int) bool {
	for _, h := range c.hooks {
		if !h.BeforeCodeBlock(ctx, code, iteration) {
			return false // any hook can veto a code block
		}
	}
	return true
}

func (c *HookChain) AfterCodeBlock(ctx context.Context, code string, output string, success bool) {
	for _, h := range c.hooks {
		h.AfterCodeBlock(ctx, code, output, success)
	}
}

func (c *HookChain) BeforeSubcall(ctx context.Context, instruction string, contentLen int) bool {
	for _, h := range c.hooks {
		if !h.BeforeSubcall(ctx, instruction, contentLen) {
			return false
		}
	}
	return true
}

func (c *HookChain) AfterSubcall(ctx context.Context, instruction string, output string, success bool) {
	for _, h := range c.hooks {
		h.AfterSubcall(ctx, instruction, output, success)
	}
}

func (c *HookChain) OnError(ctx context.Context, err error, iteration int) {
	for _, h := range c.hooks {
		h.OnError(ctx, err, iteration)
	}
}

func (c *HookChain) OnComplete(ctx context.Context, result *entity.QueryResult) {
	for _, h := range c.hooks {
		h.OnComplete(ctx, result)
	}
}

func (c *HookChain) OnStateChange(from, to EngineState, snap StateSnapshot) {
	for _, h := range c.hooks {
		h.OnStateChange(from, to, snap)
	}
}

// Compile-time check: HookChain implements EngineHook.
var _ EngineHook = (*HookChain)(nil)

// --- Built-in hooks ---

// LoggingHook exposes an Events slice for later inspection (e.g. by a
// CLI progress printer or a test assertion). None of its hook methods
// append to Events: every method is the NoOpHook default.
type LoggingHook struct {
	NoOpHook
	Events []entity.EngineEvent
}

// MetricsHook tracks counts for driver calls, code blocks, subcalls and errors.
type MetricsHook struct {
	NoOpHook
	DriverCallCount int
	CodeBlockCount  int
	SubcallCount    int
	ErrorCount      int
}

func (h *MetricsHook) AfterDriverCall(_ context.Context, _ *LLMResponse, _ int)     { h.DriverCallCount++ }
func (h *MetricsHook) AfterCodeBlock(_ context.Context, _ string, _ string, _ bool) { h.CodeBlockCount++ }
func (h *MetricsHook) AfterSubcall(_ context.Context, _ string, _ string, _ bool)   { h.SubcallCount++ }
func (h *MetricsHook) OnError(_ context.Context, _ error, _ int)                    { h.ErrorCount++ }
