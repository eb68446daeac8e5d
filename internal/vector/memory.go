package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// MemoryIndex is an in-memory vector index using exact brute-force inner product search.
// Entries are kept in insertion order, which is the tie-break for equal scores.
type MemoryIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	positions  map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index. A zero dimension is fixed by the first insertion.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions < 0 {
		return nil, fmt.Errorf("dimensions must not be negative")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		positions:  make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Insert stores a copy of vector under id.
func (m *MemoryIndex) Insert(ctx context.Context, id int64, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(vector) == 0 {
		return apperr.New(apperr.KindDimensionMismatch, "empty vector for id %d", id)
	}
	if m.dimensions == 0 {
		m.dimensions = len(vector)
	}
	if len(vector) != m.dimensions {
		return apperr.New(apperr.KindDimensionMismatch, "vector dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	if _, ok := m.positions[id]; ok {
		return apperr.New(apperr.KindDuplicateID, "id %d already indexed", id)
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)
	m.positions[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vectors = append(m.vectors, vec)
	return nil
}

func (m *MemoryIndex) checkQuery(query []float32) error {
	if m.dimensions != 0 && len(query) != m.dimensions {
		return apperr.New(apperr.KindDimensionMismatch, "query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	return nil
}

// Search returns the top-k vectors by inner product (assumes normalized vectors = cosine similarity).
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkQuery(query); err != nil {
		return nil, err
	}
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	scores := make([]*VectorResult, len(m.ids))
	for i, vec := range m.vectors {
		scores[i] = &VectorResult{ID: m.ids[i], Score: CosineSimilarity(query, vec)}
	}
	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// SearchThreshold returns all vectors whose inner product with query is at least minScore.
func (m *MemoryIndex) SearchThreshold(ctx context.Context, query []float32, minScore float64) ([]*VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkQuery(query); err != nil {
		return nil, err
	}
	var out []*VectorResult
	for i, vec := range m.vectors {
		if score := CosineSimilarity(query, vec); score >= minScore {
			out = append(out, &VectorResult{ID: m.ids[i], Score: score})
		}
	}
	return out, nil
}

// Vector returns the stored vector for id. The returned slice must not be modified.
func (m *MemoryIndex) Vector(id int64) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return m.vectors[pos], true
}

// Has reports whether id is indexed.
func (m *MemoryIndex) Has(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[id]
	return ok
}

// Save persists the index to path. Directory is created if needed. Format: dimension (4), n (4),
// then per vector: id (8), vector (dimension*4 bytes). The file is written to a temporary
// name and renamed so a crash never leaves a truncated snapshot.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range m.ids {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents. A fixed dimension must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions != 0 && int(dim) != m.dimensions {
		return apperr.New(apperr.KindDimensionMismatch, "file has dimension %d, index expects %d", dim, m.dimensions)
	}
	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	positions := make(map[int64]int, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		if _, dup := positions[id]; dup {
			return apperr.New(apperr.KindDuplicateID, "snapshot contains id %d twice", id)
		}
		positions[id] = len(ids)
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	m.dimensions = int(dim)
	m.ids = ids
	m.vectors = vectors
	m.positions = positions
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// EncodeVector returns the little-endian byte encoding used for snapshots and storage blobs.
func EncodeVector(v []float32) []byte {
	return float32SliceToBytes(v)
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) []float32 {
	return bytesToFloat32Slice(b)
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Dimensions returns the fixed dimension, or 0 before the first insertion.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
