package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// TraceWriter appends typed trace steps for a query. It is append-only,
// best-effort, and never fatal — a failing trace backend must not abort
// a query, only be logged. Implementations decide durability (in-memory
// ring buffer, a database table, a file) behind this interface.
type TraceWriter interface {
	Append(ctx context.Context, step entity.TraceStep)
}

// NoOpTraceWriter discards every step. Used when persistence is
// unconfigured — the engine still runs, it just keeps no history.
type NoOpTraceWriter struct{}

func (NoOpTraceWriter) Append(context.Context, entity.TraceStep) {}

// traceCounter is a small per-trace counter so callers don't have to
// track StepIndex themselves.
type traceCounter struct {
	traceID string
	next    int
}

// TraceRecorder wraps a TraceWriter with a monotonic per-trace step
// index and fills in Timestamp/TraceID/StepIndex, so call sites only
// supply the step-specific fields.
type TraceRecorder struct {
	writer  TraceWriter
	logger  *zap.Logger
	counter traceCounter
}

// NewTraceRecorder binds a recorder to one query's trace ID.
func NewTraceRecorder(writer TraceWriter, traceID string, logger *zap.Logger) *TraceRecorder {
	if writer == nil {
		writer = NoOpTraceWriter{}
	}
	return &TraceRecorder{writer: writer, logger: logger, counter: traceCounter{traceID: traceID}}
}

// Record appends one step, assigning TraceID and StepIndex. Failures
// inside the underlying writer are caught here too — a panicking
// backend must never take the query down with it.
func (r *TraceRecorder) Record(ctx context.Context, step entity.TraceStep) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("trace writer panicked, dropping step", zap.Any("recover", rec))
		}
	}()

	step.TraceID = r.counter.traceID
	step.StepIndex = r.counter.next
	r.counter.next++

	r.writer.Append(ctx, step)
}

// TraceID returns the trace this recorder is bound to.
func (r *TraceRecorder) TraceID() string {
	return r.counter.traceID
}
