// Package corpus owns the in-memory engine state: the vector index, the
// similarity graph and the fragment table, guarded by one RW lock.
//
// Writers hold the lock only while inserting and connecting already embedded
// fragments; no external call is made under it.
package corpus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/hiddenthread/internal/graph"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

// Hit is a fragment returned by a vector lookup.
type Hit struct {
	Fragment *models.Fragment
	Score    float64
}

// CommitResult reports what a Commit changed.
type CommitResult struct {
	Inserted int
	Edges    int
}

// Corpus is the shared index + graph + fragment table.
type Corpus struct {
	mu        sync.RWMutex
	index     vector.VectorIndex
	graph     *graph.Graph
	fragments map[int64]*models.Fragment
	byNote    map[string][]int64
}

// New creates a corpus over index. Graph edges require similarity >= similarityThreshold.
func New(index vector.VectorIndex, similarityThreshold float64) *Corpus {
	return &Corpus{
		index:     index,
		graph:     graph.New(similarityThreshold),
		fragments: make(map[int64]*models.Fragment),
		byNote:    make(map[string][]int64),
	}
}

// Commit inserts persisted fragments in order. Each fragment is added to the index
// (unless the index already holds its id, as after loading a snapshot) and to the graph,
// then compared against every node already in the graph, including earlier fragments of
// the same call. The resulting graph does not depend on how fragments were batched.
//
// On error, fragments committed before the failing one stay in place; the failing one
// may be left as a node with no edges.
func (c *Corpus) Commit(ctx context.Context, fragments []*models.Fragment) (CommitResult, error) {
	var res CommitResult
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range fragments {
		if f.ID <= 0 {
			return res, fmt.Errorf("fragment has no id")
		}
		if _, ok := c.fragments[f.ID]; ok {
			continue
		}
		if stored, ok := c.index.Vector(f.ID); ok {
			if !sameVector(stored, f.Embedding) {
				return res, fmt.Errorf("index holds a different vector for fragment %d", f.ID)
			}
		} else if err := c.index.Insert(ctx, f.ID, f.Embedding); err != nil {
			return res, err
		}
		if err := c.graph.AddNode(f.ID, f.Text); err != nil {
			return res, err
		}
		c.fragments[f.ID] = f
		c.byNote[f.NoteID] = append(c.byNote[f.NoteID], f.ID)
		res.Inserted++

		similar, err := c.index.SearchThreshold(ctx, f.Embedding, c.graph.Threshold())
		if err != nil {
			return res, err
		}
		for _, s := range similar {
			if s.ID == f.ID || !c.graph.HasNode(s.ID) {
				continue
			}
			created, err := c.graph.ConnectIfSimilar(f.ID, s.ID, s.Score)
			if err != nil {
				return res, err
			}
			if created {
				res.Edges++
			}
		}
	}
	return res, nil
}

func sameVector(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Fragment returns the fragment with id.
func (c *Corpus) Fragment(id int64) (*models.Fragment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fragments[id]
	return f, ok
}

// FragmentsByNote returns the fragments owned by noteID in id order.
func (c *Corpus) FragmentsByNote(noteID string) []*models.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byNote[noteID]
	out := make([]*models.Fragment, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.fragments[id])
	}
	return out
}

// Search returns the top-k fragments for query.
func (c *Corpus) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results, err := c.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return c.hits(results), nil
}

// SearchThreshold returns every fragment scoring at least minScore against query, in
// insertion order.
func (c *Corpus) SearchThreshold(ctx context.Context, query []float32, minScore float64) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results, err := c.index.SearchThreshold(ctx, query, minScore)
	if err != nil {
		return nil, err
	}
	return c.hits(results), nil
}

func (c *Corpus) hits(results []*vector.VectorResult) []Hit {
	out := make([]Hit, 0, len(results))
	for _, r := range results {
		f, ok := c.fragments[r.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Fragment: f, Score: r.Score})
	}
	return out
}

// Exploration is the result of seeding and traversing in one read-locked step.
type Exploration struct {
	Seeds []int64
	Path  []int64
	Texts []string
}

// Explore seeds with the top-k fragments for query and traverses the graph from them
// for at most maxDepth rounds. Texts holds the fragment text of each visited node in
// visit order, truncated to maxTexts when maxTexts > 0.
func (c *Corpus) Explore(ctx context.Context, query []float32, topK, maxDepth, maxTexts int) (*Exploration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results, err := c.index.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	seeds := make([]int64, 0, len(results))
	for _, r := range results {
		if c.graph.HasNode(r.ID) {
			seeds = append(seeds, r.ID)
		}
	}
	path := c.graph.Traverse(seeds, maxDepth)
	n := len(path)
	if maxTexts > 0 && n > maxTexts {
		n = maxTexts
	}
	texts := make([]string, 0, n)
	for _, id := range path[:n] {
		text, _ := c.graph.Payload(id)
		texts = append(texts, text)
	}
	return &Exploration{Seeds: seeds, Path: path, Texts: texts}, nil
}

// Neighbors returns the graph neighbors of id.
func (c *Corpus) Neighbors(id int64) []graph.Neighbor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.Neighbors(id)
}

// Edges returns every graph edge in canonical order.
func (c *Corpus) Edges() []graph.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.Edges()
}

// Info summarizes the graph.
func (c *Corpus) Info() models.GraphInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.GraphInfo{
		NodeCount: c.graph.NodeCount(),
		EdgeCount: c.graph.EdgeCount(),
		Density:   c.graph.Density(),
	}
}

// Size returns the number of indexed vectors.
func (c *Corpus) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Size()
}

// Dimensions returns the index dimension (0 before the first fragment).
func (c *Corpus) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Dimensions()
}

// SaveSnapshot writes the vector index to path.
func (c *Corpus) SaveSnapshot(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Save(path)
}

// LoadSnapshot loads the vector index from path. It only succeeds on an empty corpus.
func (c *Corpus) LoadSnapshot(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fragments) > 0 {
		return fmt.Errorf("snapshot can only be loaded into an empty corpus")
	}
	return c.index.Load(path)
}

// Reset discards all state and replaces the index with an empty one of the same type.
func (c *Corpus) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh, err := vector.NewVectorIndex(c.index.Type(), 0)
	if err != nil {
		return err
	}
	_ = c.index.Close()
	c.index = fresh
	c.graph = graph.New(c.graph.Threshold())
	c.fragments = make(map[int64]*models.Fragment)
	c.byNote = make(map[string][]int64)
	return nil
}

// Close releases the index.
func (c *Corpus) Close() error {
	return c.index.Close()
}
