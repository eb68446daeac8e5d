// Package embedding turns text into unit vectors and memoizes the results.
package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// Embedder produces vector embeddings for text. Identical input must produce
// an identical vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Normalize validates vec and returns a unit-length copy. dimensions of 0
// skips the length check.
func Normalize(vec []float32, dimensions int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindEmbeddingUnavailable, "embedder returned an empty vector")
	}
	if dimensions > 0 && len(vec) != dimensions {
		return nil, apperr.New(apperr.KindEmbeddingUnavailable, "embedder returned %d dimensions, expected %d", len(vec), dimensions)
	}
	var sum float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperr.New(apperr.KindEmbeddingUnavailable, "embedder returned a non-finite component")
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, apperr.New(apperr.KindEmbeddingUnavailable, "embedder returned a zero vector")
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out, nil
}
