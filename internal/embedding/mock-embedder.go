package embedding

import (
	"context"
	"math"
	"sync"
)

// MockEmbedder is a deterministic embedder for tests and offline use. It returns a
// fixed-dimension vector derived from the text hash so that the same text always gets
// the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	return Normalize(emb, e.dimensions)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// MapEmbedder returns fixed vectors for known texts and falls back to a MockEmbedder
// otherwise. Err, when set, fails every call. Calls counts Embed invocations.
type MapEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback *MockEmbedder
	err      error
	calls    int
}

// NewMapEmbedder creates a MapEmbedder over vectors.
func NewMapEmbedder(dimensions int, vectors map[string][]float32) *MapEmbedder {
	if vectors == nil {
		vectors = make(map[string][]float32)
	}
	return &MapEmbedder{vectors: vectors, fallback: NewMockEmbedder(dimensions)}
}

// Set registers the vector returned for text.
func (e *MapEmbedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Fail makes every subsequent call return err; nil restores normal behavior.
func (e *MapEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many times Embed was called.
func (e *MapEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed implements Embedder.
func (e *MapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	vec, ok := e.vectors[text]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return e.fallback.Embed(ctx, text)
}

// Dimensions implements Embedder.
func (e *MapEmbedder) Dimensions() int {
	return e.fallback.Dimensions()
}

// Close implements Embedder.
func (e *MapEmbedder) Close() error {
	return nil
}
