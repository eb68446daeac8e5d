package models

// QueryState is a step of answering a query.
type QueryState string

const (
	QueryEmbedding   QueryState = "embedding"
	QuerySeeding     QueryState = "seeding"
	QueryTraversing  QueryState = "traversing"
	QuerySummarizing QueryState = "summarizing"
	QueryDone        QueryState = "done"
	// QueryDegraded is terminal and only reachable from QuerySummarizing.
	QueryDegraded QueryState = "degraded"
)

// QueryRequest is the boundary payload for a graph-assisted query. A nil TopK or
// MaxDepth takes the engine default. Explicit zeros are honored: max_depth 0 keeps only
// the seeds and top_k 0 seeds nothing.
type QueryRequest struct {
	Query    string `json:"query" validate:"required,max=4000"`
	TopK     *int   `json:"top_k,omitempty" validate:"omitnil,gte=0,lte=100"`
	MaxDepth *int   `json:"max_depth,omitempty" validate:"omitnil,gte=0,lte=10"`
}

// Validate rejects malformed requests and fills nil TopK/MaxDepth with the given defaults.
func (q *QueryRequest) Validate(defaultTopK, defaultMaxDepth int) error {
	if err := validateStruct(q); err != nil {
		return err
	}
	if q.TopK == nil {
		q.TopK = IntPtr(defaultTopK)
	}
	if q.MaxDepth == nil {
		q.MaxDepth = IntPtr(defaultMaxDepth)
	}
	return nil
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// QueryResult is the answer to a query.
type QueryResult struct {
	Query             string     `json:"query"`
	Response          string     `json:"response"`
	TraversalPath     []int64    `json:"traversal_path"`
	RelevantFragments []string   `json:"relevant_fragments"`
	Degraded          bool       `json:"degraded"`
	State             QueryState `json:"state"`
	QueryTime         int64      `json:"query_time_ms"`
}

// GraphInfo summarizes the similarity graph.
type GraphInfo struct {
	NodeCount int     `json:"node_count"`
	EdgeCount int     `json:"edge_count"`
	Density   float64 `json:"density"`
}
