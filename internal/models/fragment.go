// Package models defines the records exchanged by the engine: fragments, notes, matches,
// suggestions and query results.
package models

import (
	"time"
)

// Category tags what a fragment represents.
type Category string

const (
	CategoryNeed      Category = "need"
	CategoryAvailable Category = "available"
	// CategoryChunk marks a generic document chunk; chunks never take part in matching.
	CategoryChunk Category = "chunk"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryNeed, CategoryAvailable, CategoryChunk:
		return true
	}
	return false
}

// Complement returns the category a fragment of category c is matched against.
// Chunks have no complement.
func (c Category) Complement() (Category, bool) {
	switch c {
	case CategoryNeed:
		return CategoryAvailable, true
	case CategoryAvailable:
		return CategoryNeed, true
	}
	return "", false
}

// Fragment is an embedded, tagged span of text owned by a note or document.
// Fragments are immutable once created.
type Fragment struct {
	ID        int64     `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	Category  Category  `json:"category" db:"category"`
	NoteID    string    `json:"note_id" db:"note_id"`
	Embedding []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FragmentInput is the boundary payload for ingesting a single fragment.
type FragmentInput struct {
	Text     string   `json:"text" validate:"required,max=8000"`
	Category Category `json:"category" validate:"required,oneof=need available chunk"`
	NoteID   string   `json:"note_id" validate:"required,max=256"`
}

// Validate rejects malformed fragment payloads.
func (in *FragmentInput) Validate() error {
	return validateStruct(in)
}
