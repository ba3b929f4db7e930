package models

import "time"

// ProjectModel groups a set of documents under one queryable namespace.
type ProjectModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time
}

// TableName specifies the table name.
func (ProjectModel) TableName() string {
	return "projects"
}
