package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

func TestMemoryIndex_InsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := map[int64][]float32{
		1: {1, 0, 0},
		2: {0.6, 0.8, 0},
		3: {0, 1, 0},
	}
	for _, id := range []int64{1, 2, 3} {
		if err := idx.Insert(ctx, id, vecs[id]); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 || results[1].ID != 2 {
		t.Errorf("order = %d,%d, want 1,2", results[0].ID, results[1].ID)
	}
}

func TestMemoryIndex_SearchTiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	for _, id := range []int64{30, 10, 20} {
		if err := idx.Insert(ctx, id, []float32{1, 0}); err != nil {
			t.Fatal(err)
		}
	}
	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{30, 10, 20}
	for i, r := range results {
		if r.ID != want[i] {
			t.Fatalf("results[%d]=%d, want %d", i, r.ID, want[i])
		}
	}
}

func TestMemoryIndex_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(idx *MemoryIndex) error
		want apperr.Kind
	}{
		{"wrong dimension", func(idx *MemoryIndex) error { return idx.Insert(ctx, 9, []float32{1, 0, 0}) }, apperr.KindDimensionMismatch},
		{"duplicate id", func(idx *MemoryIndex) error { return idx.Insert(ctx, 1, []float32{0, 1}) }, apperr.KindDuplicateID},
		{"query dimension", func(idx *MemoryIndex) error {
			_, err := idx.Search(ctx, []float32{1}, 1)
			return err
		}, apperr.KindDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, _ := NewMemoryIndex(2)
			if err := idx.Insert(ctx, 1, []float32{1, 0}); err != nil {
				t.Fatal(err)
			}
			err := tt.run(idx)
			if apperr.KindOf(err) != tt.want {
				t.Errorf("kind = %q, want %q (err=%v)", apperr.KindOf(err), tt.want, err)
			}
			if idx.Size() != 1 {
				t.Errorf("failed call changed size to %d", idx.Size())
			}
		})
	}
}

func TestMemoryIndex_FirstInsertFixesDimension(t *testing.T) {
	idx, err := NewMemoryIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Insert(ctx, 1, []float32{0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	if idx.Dimensions() != 3 {
		t.Errorf("Dimensions=%d", idx.Dimensions())
	}
	if err := idx.Insert(ctx, 2, []float32{1, 0}); apperr.KindOf(err) != apperr.KindDimensionMismatch {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestMemoryIndex_SearchThreshold(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Insert(ctx, 1, []float32{0, 1})
	_ = idx.Insert(ctx, 2, []float32{1, 0})
	_ = idx.Insert(ctx, 3, []float32{0.8, 0.6})

	res, err := idx.SearchThreshold(ctx, []float32{1, 0}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].ID != 2 || res[1].ID != 3 {
		t.Fatalf("unexpected results %+v", res)
	}

	// Raising the threshold never adds results.
	higher, _ := idx.SearchThreshold(ctx, []float32{1, 0}, 0.9)
	if len(higher) > len(res) {
		t.Errorf("threshold 0.9 returned %d > %d", len(higher), len(res))
	}
}

func TestMemoryIndex_ScoresClamped(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	v := []float32{0.70710677, 0.70710677}
	_ = idx.Insert(ctx, 1, v)
	res, _ := idx.Search(ctx, v, 1)
	if res[0].Score > 1 || res[0].Score < -1 {
		t.Errorf("score %v out of [-1,1]", res[0].Score)
	}
}

func TestMemoryIndex_InsertCopiesVector(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	v := []float32{1, 0}
	_ = idx.Insert(context.Background(), 1, v)
	v[0] = 0
	got, ok := idx.Vector(1)
	if !ok || got[0] != 1 {
		t.Errorf("stored vector aliased caller slice: %v", got)
	}
	if idx.Has(2) {
		t.Error("Has(2) should be false")
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "vectors.bin")
	ctx := context.Background()
	idx, _ := NewMemoryIndex(2)
	_ = idx.Insert(ctx, 7, []float32{1, 0})
	_ = idx.Insert(ctx, 3, []float32{0, 1})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(0)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 || loaded.Dimensions() != 2 {
		t.Fatalf("loaded size=%d dims=%d", loaded.Size(), loaded.Dimensions())
	}
	res, _ := loaded.Search(ctx, []float32{0, 1}, 1)
	if res[0].ID != 3 {
		t.Errorf("top id=%d, want 3", res[0].ID)
	}

	wrong, _ := NewMemoryIndex(5)
	if err := wrong.Load(path); apperr.KindOf(err) != apperr.KindDimensionMismatch {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.bin")); err != nil {
		t.Errorf("missing file should not error: %v", err)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0.25, -1, 3.5}
	out := DecodeVector(EncodeVector(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("out=%v", out)
		}
	}
}
