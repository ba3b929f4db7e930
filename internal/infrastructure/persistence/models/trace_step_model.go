package models

import "time"

// TraceStepModel is one append-only row of a query's trace. The
// composite index on (TraceID, StepIndex) lets ReadSteps reconstruct a
// trace in order without a separate sequence table.
type TraceStepModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	TraceID    string `gorm:"size:64;not null;index:idx_trace_step,priority:1"`
	QueryID    string `gorm:"size:64;index"`
	StepIndex  int    `gorm:"not null;index:idx_trace_step,priority:2"`
	StepType   string `gorm:"size:32;not null"`
	PayloadJSON string `gorm:"type:text"`
	TokensUsed int
	CreatedAt  time.Time
}

// TableName specifies the table name.
func (TraceStepModel) TableName() string {
	return "trace_steps"
}
