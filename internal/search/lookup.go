package search

import (
	"context"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/models"
)

// snippetLen is the rune budget of a lookup snippet.
const snippetLen = 160

// FragmentHit is a keyword lookup result.
type FragmentHit struct {
	Fragment *models.Fragment `json:"fragment"`
	// Score is the bleve score scaled so the best hit is 1.
	Score   float64 `json:"score"`
	Match   string  `json:"match"`
	Snippet string  `json:"snippet"`

	matchType MatchType
}

// Lookup finds fragments by keyword. Quoted phrases rank first and "-term" excludes
// fragments containing term. Hits for fragments missing from the corpus are dropped.
func (e *Engine) Lookup(ctx context.Context, q string, limit int, opts *keyword.SearchOptions) ([]FragmentHit, error) {
	if e.keywords == nil {
		return nil, apperr.New(apperr.KindInternal, "keyword index is not configured")
	}
	analyzed := AnalyzeQuery(q)
	text := analyzed.Text()
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "q is required")
	}
	results, err := e.keywords.Search(ctx, text, limit, opts)
	if err != nil {
		return nil, err
	}
	scores := NormalizeScores(results)
	hits := make([]FragmentHit, 0, len(results))
	for _, r := range results {
		f, ok := e.corpus.Fragment(r.ID)
		if !ok {
			continue
		}
		hits = append(hits, FragmentHit{Fragment: f, Score: scores[r.ID], Snippet: Highlight(f.Text, text, snippetLen)})
	}
	return rerank(analyzed, hits), nil
}

// NormalizeScores scales keyword scores into [0, 1] by dividing by the best score.
func NormalizeScores(results []*keyword.KeywordResult) map[int64]float64 {
	out := make(map[int64]float64, len(results))
	var best float64
	for _, r := range results {
		if r.Score > best {
			best = r.Score
		}
	}
	for _, r := range results {
		if best > 0 {
			out[r.ID] = r.Score / best
		} else {
			out[r.ID] = 0
		}
	}
	return out
}
