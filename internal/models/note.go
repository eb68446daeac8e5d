package models

import (
	"time"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// Note is a stored free-text note together with what was extracted from it.
type Note struct {
	ID             string    `json:"id" db:"id"`
	Content        string    `json:"content" db:"content"`
	Sentiments     []string  `json:"sentiments" db:"sentiments"`
	Needs          []string  `json:"resources_needed" db:"needs"`
	Availabilities []string  `json:"resources_available" db:"availabilities"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NoteInput is the boundary payload for ingesting a raw note.
type NoteInput struct {
	ID      string `json:"id,omitempty" validate:"omitempty,max=256"`
	Content string `json:"content" validate:"required,max=20000"`
}

// Validate rejects malformed note payloads.
func (in *NoteInput) Validate() error {
	return validateStruct(in)
}

// NoteBatchInput is the boundary payload for ingesting several notes at once.
type NoteBatchInput struct {
	Notes []NoteInput `json:"notes" validate:"required,min=1,max=100,dive"`
}

// Validate rejects an empty or oversized batch, any malformed note and repeated ids.
func (in *NoteBatchInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	seen := make(map[string]bool, len(in.Notes))
	for _, n := range in.Notes {
		if n.ID == "" {
			continue
		}
		if seen[n.ID] {
			return apperr.New(apperr.KindValidation, "note id %q appears more than once", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// DocumentInput is the boundary payload for ingesting a document as chunk fragments.
type DocumentInput struct {
	ID      string `json:"id,omitempty" validate:"omitempty,max=256"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content" validate:"required"`
}

// Validate rejects malformed document payloads.
func (in *DocumentInput) Validate() error {
	return validateStruct(in)
}

// Document records a chunked document (uploaded text or an ingested file).
type Document struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Source    string    `json:"source,omitempty" db:"source"`
	Chunks    int       `json:"chunks" db:"chunks"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
