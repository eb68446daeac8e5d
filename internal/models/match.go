package models

import "time"

// Match pairs a need fragment with an availability fragment from a different note.
// Matches are computed on demand and not persisted by themselves.
type Match struct {
	NeedID          int64   `json:"need_id"`
	AvailableID     int64   `json:"available_id"`
	NeedText        string  `json:"need"`
	AvailableText   string  `json:"availability"`
	NeedNoteID      string  `json:"need_note_id"`
	AvailableNoteID string  `json:"available_note_id"`
	Score           float64 `json:"score"`
}

// Suggestion is generated prose for a Match. Immutable after creation.
type Suggestion struct {
	ID        string    `json:"id" db:"id"`
	Match     Match     `json:"match" db:"-"`
	Text      string    `json:"suggestion" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
