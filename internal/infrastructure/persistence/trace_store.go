package persistence

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/persistence/models"
)

// TraceStore is a gorm-backed service.TraceWriter. Append is best-effort:
// a write failure is logged and swallowed, never surfaced to the engine,
// since a trace-store outage must never interrupt an in-flight query.
type TraceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTraceStore wraps a gorm connection as a trace writer.
func NewTraceStore(db *gorm.DB, logger *zap.Logger) *TraceStore {
	return &TraceStore{db: db, logger: logger}
}

var _ service.TraceWriter = (*TraceStore)(nil)

// Append persists one trace step. Errors are logged, never returned —
// TraceWriter's contract has no error path by design.
func (s *TraceStore) Append(ctx context.Context, step entity.TraceStep) {
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		s.logger.Warn("trace step payload not serializable, dropping step",
			zap.String("trace_id", step.TraceID), zap.Int("step_index", step.StepIndex), zap.Error(err))
		return
	}

	row := models.TraceStepModel{
		TraceID:     step.TraceID,
		StepIndex:   step.StepIndex,
		StepType:    string(step.Type),
		PayloadJSON: string(payload),
		TokensUsed:  step.TokensUsed,
		CreatedAt:   step.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("trace step write failed, dropping step",
			zap.String("trace_id", step.TraceID), zap.Int("step_index", step.StepIndex), zap.Error(err))
	}
}

// ReadSteps reconstructs a trace in StepIndex order. Used by inspection
// tooling, not by the engine itself.
func (s *TraceStore) ReadSteps(ctx context.Context, traceID string) ([]entity.TraceStep, error) {
	var rows []models.TraceStepModel
	if err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("step_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	steps := make([]entity.TraceStep, 0, len(rows))
	for _, row := range rows {
		var payload map[string]any
		if row.PayloadJSON != "" {
			if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
				s.logger.Warn("trace step payload corrupt, skipping decode",
					zap.String("trace_id", traceID), zap.Int("step_index", row.StepIndex), zap.Error(err))
			}
		}
		steps = append(steps, entity.TraceStep{
			TraceID:    row.TraceID,
			StepIndex:  row.StepIndex,
			Type:       entity.StepType(row.StepType),
			Timestamp:  row.CreatedAt,
			TokensUsed: row.TokensUsed,
			Payload:    payload,
		})
	}
	return steps, nil
}
