// Package storage defines the persistence interface for notes, fragments,
// embeddings and suggestions.
package storage

import (
	"context"

	"github.com/hyperjump/hiddenthread/internal/models"
)

// Storage defines persistence operations. Fragments, embeddings and suggestions
// are append-only.
type Storage interface {
	// Note operations
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	ListNotes(ctx context.Context, offset, limit int) ([]*models.Note, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// Fragment operations. CreateFragments assigns IDs in input order.
	CreateFragments(ctx context.Context, fragments []*models.Fragment) error
	GetFragment(ctx context.Context, id int64) (*models.Fragment, error)
	ListFragments(ctx context.Context, afterID int64, limit int) ([]*models.Fragment, error)
	FragmentsByNote(ctx context.Context, noteID string) ([]*models.Fragment, error)

	// Embedding operations. SaveEmbedding never overwrites an existing key.
	LoadEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SaveEmbedding(ctx context.Context, key string, vector []float32) error

	// Suggestion operations. ListSuggestions returns newest first; an empty
	// noteID lists all notes.
	CreateSuggestions(ctx context.Context, suggestions []*models.Suggestion) error
	ListSuggestions(ctx context.Context, noteID string, limit int) ([]*models.Suggestion, error)

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Stats counts stored records.
type Stats struct {
	Notes       int64 `json:"notes"`
	Documents   int64 `json:"documents"`
	Fragments   int64 `json:"fragments"`
	Embeddings  int64 `json:"embeddings"`
	Suggestions int64 `json:"suggestions"`
}
