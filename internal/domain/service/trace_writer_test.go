package service

import (
	"context"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

type fakeTraceWriter struct {
	steps []entity.TraceStep
}

func (f *fakeTraceWriter) Append(ctx context.Context, step entity.TraceStep) {
	f.steps = append(f.steps, step)
}

type panickingTraceWriter struct{}

func (panickingTraceWriter) Append(ctx context.Context, step entity.TraceStep) {
	panic("backend unavailable")
}

func TestNoOpTraceWriter_DiscardsSteps(t *testing.T) {
	var w NoOpTraceWriter
	w.Append(context.Background(), entity.TraceStep{Type: entity.StepFinalAnswer})
	// Nothing to assert beyond "does not panic" — it is a pure discard.
}

func TestTraceRecorder_AssignsMonotonicStepIndex(t *testing.T) {
	writer := &fakeTraceWriter{}
	rec := NewTraceRecorder(writer, "trace-1", zap.NewNop())

	rec.Record(context.Background(), entity.TraceStep{Type: entity.StepIterationStart})
	rec.Record(context.Background(), entity.TraceStep{Type: entity.StepDriverRequest})
	rec.Record(context.Background(), entity.TraceStep{Type: entity.StepFinalAnswer})

	if len(writer.steps) != 3 {
		t.Fatalf("expected 3 recorded steps, got %d", len(writer.steps))
	}
	for i, step := range writer.steps {
		if step.StepIndex != i {
			t.Fatalf("expected step index %d, got %d", i, step.StepIndex)
		}
		if step.TraceID != "trace-1" {
			t.Fatalf("expected trace ID to be stamped, got %q", step.TraceID)
		}
	}
}

func TestTraceRecorder_NilWriterFallsBackToNoOp(t *testing.T) {
	rec := NewTraceRecorder(nil, "trace-2", zap.NewNop())
	// Must not panic even though no writer was supplied.
	rec.Record(context.Background(), entity.TraceStep{Type: entity.StepCancelled})
}

func TestTraceRecorder_SurvivesPanickingWriter(t *testing.T) {
	rec := NewTraceRecorder(panickingTraceWriter{}, "trace-3", zap.NewNop())
	rec.Record(context.Background(), entity.TraceStep{Type: entity.StepCodeExecuted})
	// Reaching this line means the panic was contained.
}

func TestTraceRecorder_TraceIDAccessor(t *testing.T) {
	rec := NewTraceRecorder(&fakeTraceWriter{}, "trace-4", zap.NewNop())
	if rec.TraceID() != "trace-4" {
		t.Fatalf("expected bound trace ID, got %q", rec.TraceID())
	}
}
