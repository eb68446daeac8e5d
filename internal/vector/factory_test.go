package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	idx, err := NewVectorIndex("memory", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(memory): %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	if err := idx.Insert(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
	if idx.Type() != "memory" {
		t.Errorf("Type=%s", idx.Type())
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string should default to memory
	idx, err := NewVectorIndex("", 0)
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	defer idx.Close()

	if idx.Size() != 0 || idx.Dimensions() != 0 {
		t.Errorf("Size=%d Dimensions=%d, want 0/0", idx.Size(), idx.Dimensions())
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	if _, err := NewVectorIndex("faiss", 3); err == nil {
		t.Error("expected error for unsupported index type")
	}
}

func TestNewVectorIndex_NegativeDimension(t *testing.T) {
	if _, err := NewVectorIndex("memory", -1); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	a := []float32{1.0000001, 0}
	if s := CosineSimilarity(a, a); s > 1 {
		t.Errorf("similarity %v > 1", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); s != -1 {
		t.Errorf("opposite vectors = %v", s)
	}
	if !IsUnit([]float32{0.6, 0.8}) {
		t.Error("0.6,0.8 should be unit")
	}
}
