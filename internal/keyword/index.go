// Package keyword provides full-text lookup over fragment text.
package keyword

import (
	"context"

	"github.com/hyperjump/hiddenthread/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// Category restricts hits to one fragment category when non-empty.
	Category models.Category
	// NoteID restricts hits to one owning note or document when non-empty.
	NoteID string
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// FragmentIndex defines keyword search operations over fragments.
type FragmentIndex interface {
	IndexFragments(ctx context.Context, fragments []*models.Fragment) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// DocCount returns the total number of fragments in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the fragment id.
type KeywordResult struct {
	ID    int64
	Score float64
}
