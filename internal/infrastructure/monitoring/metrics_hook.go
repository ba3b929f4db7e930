package monitoring

import (
	"context"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
)

// MetricsHook is an EngineHook that instruments the RLM iteration loop
// with Monitor metrics. Embeds NoOpHook for default method implementations.
//
// Usage:
//
//	monitor := monitoring.NewMonitor(logger)
//	hook := monitoring.NewMetricsHook(monitor)
//	engine := service.NewEngine(driver, subLLM, pool, tracer, hook, cfg, logger)
type MetricsHook struct {
	service.NoOpHook
	monitor       *Monitor
	iterationTime time.Time // tracks per-iteration latency
}

// NewMetricsHook creates a metrics-collecting engine hook.
func NewMetricsHook(monitor *Monitor) *MetricsHook {
	return &MetricsHook{monitor: monitor}
}

// Compile-time interface check
var _ service.EngineHook = (*MetricsHook)(nil)

// BeforeDriverCall is called before each driver LLM request.
func (h *MetricsHook) BeforeDriverCall(ctx context.Context, req *service.LLMRequest, iteration int) {
	h.monitor.IncModelCall()
	h.monitor.IncRequestTotal()
	h.iterationTime = time.Now()
}

// AfterDriverCall is called after each successful driver LLM response.
func (h *MetricsHook) AfterDriverCall(ctx context.Context, resp *service.LLMResponse, iteration int) {
	h.monitor.IncRequestSuccess()
	h.monitor.AddTokensUsed(resp.TokensUsed)
	if !h.iterationTime.IsZero() {
		h.monitor.RecordRequestLatency(time.Since(h.iterationTime))
	}
}

// BeforeCodeBlock is called before each `repl` code block is executed.
// Always returns true (does not veto) — purely observational.
func (h *MetricsHook) BeforeCodeBlock(ctx context.Context, code string, iteration int) bool {
	h.monitor.IncToolCallTotal()
	return true
}

// AfterCodeBlock is called after a code block finishes executing.
func (h *MetricsHook) AfterCodeBlock(ctx context.Context, code string, output string, success bool) {
	if success {
		h.monitor.IncToolCallSuccess()
	} else {
		h.monitor.IncToolCallFailed()
	}
}

// OnError is called when an error occurs in the loop.
func (h *MetricsHook) OnError(ctx context.Context, err error, iteration int) {
	h.monitor.IncError()
	h.monitor.IncRequestFailed()
}

// OnComplete is called when the query reaches a terminal state.
func (h *MetricsHook) OnComplete(ctx context.Context, result *entity.QueryResult) {
	// No additional metrics needed — success already tracked per-iteration.
}

// OnStateChange is called on each state machine transition.
func (h *MetricsHook) OnStateChange(from, to service.EngineState, snap service.StateSnapshot) {
	// Can be extended for state-specific metrics in the future.
}
