package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/persistence/models"
)

// DocumentStore is the gorm-backed per-project document registry. It
// persists identity and ordering metadata only — document content bytes
// belong to the ingestion collaborator that produced them, never to this
// store.
type DocumentStore struct {
	db *gorm.DB
}

// NewDocumentStore wraps a gorm connection as a document/project registry.
func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// CreateProject registers a new project namespace, idempotently by name.
func (s *DocumentStore) CreateProject(ctx context.Context, id, name string) error {
	project := models.ProjectModel{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Where(models.ProjectModel{Name: name}).
		FirstOrCreate(&project).Error
}

// RegisterDocuments records the ordered identity metadata for a project's
// document set, replacing any prior registration for that project.
func (s *DocumentStore) RegisterDocuments(ctx context.Context, projectID string, externalIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.DocumentModel{}).Error; err != nil {
			return err
		}
		rows := make([]models.DocumentModel, 0, len(externalIDs))
		for i, externalID := range externalIDs {
			rows = append(rows, models.DocumentModel{
				ID:         externalID,
				ProjectID:  projectID,
				Index:      i,
				ExternalID: externalID,
				CreatedAt:  time.Now().UTC(),
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// ListDocuments returns a project's documents ordered by index.
func (s *DocumentStore) ListDocuments(ctx context.Context, projectID string) ([]models.DocumentModel, error) {
	var rows []models.DocumentModel
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order(`"index" ASC`).
		Find(&rows).Error
	return rows, err
}
