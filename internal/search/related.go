package search

import (
	"context"
)

// Related returns up to limit fragment texts reached by exploring the graph from text,
// excluding fragments whose text is in exclude. Nothing is summarized or persisted.
func (e *Engine) Related(ctx context.Context, text string, limit int, exclude ...string) ([]string, error) {
	vec, err := e.cache.Transient(ctx, text)
	if err != nil {
		return nil, err
	}
	ex, err := e.corpus.Explore(ctx, vec, e.config.DefaultTopK, e.config.DefaultMaxDepth, 0)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		skip[s] = true
	}
	out := make([]string, 0, limit)
	for _, t := range ex.Texts {
		if len(out) == limit {
			break
		}
		if !skip[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
