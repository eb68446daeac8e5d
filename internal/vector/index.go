// Package vector provides vector index and similarity search.
package vector

import "context"

// VectorIndex stores unit-normalized vectors under integer ids and answers
// inner-product queries. For unit vectors the inner product is the cosine similarity.
type VectorIndex interface {
	// Insert adds vector under id. Fails with a dimension_mismatch error when the
	// vector's length differs from the index dimension, and with duplicate_id when
	// id is already present.
	Insert(ctx context.Context, id int64, vector []float32) error
	// Search returns at most k results ordered by score descending; equal scores
	// keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// SearchThreshold returns every entry scoring at least minScore, in insertion order.
	SearchThreshold(ctx context.Context, query []float32, minScore float64) ([]*VectorResult, error)
	Vector(id int64) ([]float32, bool)
	Has(id int64) bool
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit (ID is the fragment id).
type VectorResult struct {
	ID    int64
	Score float64 // inner product, in [-1, 1] for unit vectors
}
