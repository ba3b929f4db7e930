package models

import "time"

// DocumentModel records a document's identity and position within a
// project's context[] array. Content itself is not persisted here — it
// belongs to the ingestion collaborator that produced it; this table
// only fixes ordering and external identity.
type DocumentModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	ProjectID  string `gorm:"index;size:64;not null"`
	Index      int    `gorm:"not null"`
	ExternalID string `gorm:"size:255"`
	CreatedAt  time.Time
}

// TableName specifies the table name.
func (DocumentModel) TableName() string {
	return "documents"
}
