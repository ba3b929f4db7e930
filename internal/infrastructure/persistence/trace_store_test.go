package persistence

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
)

func TestTraceStore_AppendAndReadSteps(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewTraceStore(db, zap.NewNop())

	ctx := context.Background()
	store.Append(ctx, entity.TraceStep{
		TraceID:   "trace-1",
		StepIndex: 0,
		Type:      entity.StepIterationStart,
		Payload:   map[string]any{"iteration": float64(1)},
	})
	store.Append(ctx, entity.TraceStep{
		TraceID:   "trace-1",
		StepIndex: 1,
		Type:      entity.StepFinalAnswer,
		Payload:   map[string]any{"answer": "42"},
	})

	steps, err := store.ReadSteps(ctx, "trace-1")
	if err != nil {
		t.Fatalf("unexpected error reading steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].StepIndex != 0 || steps[1].StepIndex != 1 {
		t.Fatalf("expected steps ordered by step index, got %+v", steps)
	}
	if steps[1].Payload["answer"] != "42" {
		t.Fatalf("expected payload to round trip through JSON, got %+v", steps[1].Payload)
	}
}

func TestTraceStore_ReadStepsScopedToTraceID(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewTraceStore(db, zap.NewNop())

	ctx := context.Background()
	store.Append(ctx, entity.TraceStep{TraceID: "trace-a", StepIndex: 0, Type: entity.StepIterationStart})
	store.Append(ctx, entity.TraceStep{TraceID: "trace-b", StepIndex: 0, Type: entity.StepIterationStart})

	steps, err := store.ReadSteps(ctx, "trace-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 1 || steps[0].TraceID != "trace-a" {
		t.Fatalf("expected only trace-a's steps, got %+v", steps)
	}
}

func TestTraceStore_ReadStepsUnknownTraceReturnsEmpty(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewTraceStore(db, zap.NewNop())

	steps, err := store.ReadSteps(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("expected no steps for an unknown trace, got %+v", steps)
	}
}
