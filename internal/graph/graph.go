// Package graph holds the undirected similarity graph built over fragments.
package graph

import (
	"sort"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// Neighbor is an adjacent node and the weight of the connecting edge.
type Neighbor struct {
	ID     int64
	Weight float64
}

// Edge is an undirected edge in canonical form (A < B).
type Edge struct {
	A      int64   `json:"a"`
	B      int64   `json:"b"`
	Weight float64 `json:"weight"`
}

// Graph is an undirected weighted graph whose edges are created only when
// similarity reaches Threshold. Edges are never updated or removed.
//
// Graph is not safe for concurrent use; corpus.Corpus serializes access.
type Graph struct {
	threshold float64
	payloads  map[int64]string
	adj       map[int64]map[int64]float64
	order     []int64
	edges     int
}

// New creates an empty graph with the given edge threshold.
func New(threshold float64) *Graph {
	return &Graph{
		threshold: threshold,
		payloads:  make(map[int64]string),
		adj:       make(map[int64]map[int64]float64),
	}
}

// Threshold returns the minimum similarity for an edge.
func (g *Graph) Threshold() float64 {
	return g.threshold
}

// AddNode adds id with payload. Re-adding an identical payload is a no-op;
// a different payload is a node_conflict.
func (g *Graph) AddNode(id int64, payload string) error {
	if existing, ok := g.payloads[id]; ok {
		if existing != payload {
			return apperr.New(apperr.KindNodeConflict, "node %d already exists with a different payload", id)
		}
		return nil
	}
	g.payloads[id] = payload
	g.adj[id] = make(map[int64]float64)
	g.order = append(g.order, id)
	return nil
}

// HasNode reports whether id is a node.
func (g *Graph) HasNode(id int64) bool {
	_, ok := g.payloads[id]
	return ok
}

// Payload returns the text stored on node id.
func (g *Graph) Payload(id int64) (string, bool) {
	p, ok := g.payloads[id]
	return p, ok
}

// ConnectIfSimilar adds an edge a-b weighted by similarity when similarity >= threshold.
// It returns true only when a new edge was created.
func (g *Graph) ConnectIfSimilar(a, b int64, similarity float64) (bool, error) {
	if a == b {
		return false, apperr.New(apperr.KindValidation, "self-loop on node %d", a)
	}
	na, ok := g.adj[a]
	if !ok {
		return false, apperr.New(apperr.KindNotFound, "node %d not in graph", a)
	}
	nb, ok := g.adj[b]
	if !ok {
		return false, apperr.New(apperr.KindNotFound, "node %d not in graph", b)
	}
	if similarity < g.threshold {
		return false, nil
	}
	if _, exists := na[b]; exists {
		return false, nil
	}
	na[b] = similarity
	nb[a] = similarity
	g.edges++
	return true, nil
}

// Neighbors returns the neighbors of id ordered by weight descending, then id ascending.
func (g *Graph) Neighbors(id int64) []Neighbor {
	adj := g.adj[id]
	out := make([]Neighbor, 0, len(adj))
	for n, w := range adj {
		out = append(out, Neighbor{ID: n, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Degree returns the number of edges touching id.
func (g *Graph) Degree(id int64) int {
	return len(g.adj[id])
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.payloads)
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// Density returns 2E / (N(N-1)), or 0 when there are fewer than two nodes.
func (g *Graph) Density() float64 {
	n := len(g.payloads)
	if n < 2 {
		return 0
	}
	return 2 * float64(g.edges) / (float64(n) * float64(n-1))
}

// Nodes returns node ids in insertion order.
func (g *Graph) Nodes() []int64 {
	out := make([]int64, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns every edge sorted by (A, B).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for a, adj := range g.adj {
		for b, w := range adj {
			if a < b {
				out = append(out, Edge{A: a, B: b, Weight: w})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}
