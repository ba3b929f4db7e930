package persistence

import (
	"context"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
)

func TestDocumentStore_CreateProjectIsIdempotentByName(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewDocumentStore(db)
	ctx := context.Background()

	if err := store.CreateProject(ctx, "proj-1", "research"); err != nil {
		t.Fatalf("unexpected error on first create: %v", err)
	}
	if err := store.CreateProject(ctx, "proj-2", "research"); err != nil {
		t.Fatalf("unexpected error on duplicate-name create: %v", err)
	}
}

func TestDocumentStore_RegisterAndListDocumentsOrderedByIndex(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewDocumentStore(db)
	ctx := context.Background()

	if err := store.CreateProject(ctx, "proj-1", "research"); err != nil {
		t.Fatalf("unexpected error creating project: %v", err)
	}
	if err := store.RegisterDocuments(ctx, "proj-1", []string{"doc-a", "doc-b", "doc-c"}); err != nil {
		t.Fatalf("unexpected error registering documents: %v", err)
	}

	docs, err := store.ListDocuments(ctx, "proj-1")
	if err != nil {
		t.Fatalf("unexpected error listing documents: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, d := range docs {
		if d.Index != i {
			t.Fatalf("expected document at position %d to have index %d, got %d", i, i, d.Index)
		}
	}
	if docs[0].ExternalID != "doc-a" || docs[2].ExternalID != "doc-c" {
		t.Fatalf("unexpected document ordering: %+v", docs)
	}
}

func TestDocumentStore_RegisterDocumentsReplacesPriorRegistration(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewDocumentStore(db)
	ctx := context.Background()

	if err := store.CreateProject(ctx, "proj-1", "research"); err != nil {
		t.Fatalf("unexpected error creating project: %v", err)
	}
	if err := store.RegisterDocuments(ctx, "proj-1", []string{"doc-a", "doc-b"}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	if err := store.RegisterDocuments(ctx, "proj-1", []string{"doc-x"}); err != nil {
		t.Fatalf("unexpected error on replacement registration: %v", err)
	}

	docs, err := store.ListDocuments(ctx, "proj-1")
	if err != nil {
		t.Fatalf("unexpected error listing documents: %v", err)
	}
	if len(docs) != 1 || docs[0].ExternalID != "doc-x" {
		t.Fatalf("expected replacement to fully supersede prior registration, got %+v", docs)
	}
}

func TestDocumentStore_ListDocumentsEmptyProjectReturnsEmpty(t *testing.T) {
	db, err := NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	store := NewDocumentStore(db)

	docs, err := store.ListDocuments(context.Background(), "no-such-project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %+v", docs)
	}
}
