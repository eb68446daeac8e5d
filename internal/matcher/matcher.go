// Package matcher pairs need fragments with availability fragments from other notes.
package matcher

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/models"
)

// Matcher finds cross-note matches above a similarity threshold.
type Matcher struct {
	corpus    *corpus.Corpus
	threshold float64
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// New creates a matcher over c. Matches need a score of at least threshold.
func New(c *corpus.Corpus, threshold float64, opts ...Option) *Matcher {
	m := &Matcher{corpus: c, threshold: threshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the match threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// FindMatches returns the fragments of the complementary category, owned by other notes,
// that score at least the threshold against f. Results are sorted by score descending,
// then candidate id ascending. Chunks never match.
func (m *Matcher) FindMatches(ctx context.Context, f *models.Fragment) ([]models.Match, error) {
	want, ok := f.Category.Complement()
	if !ok {
		return nil, nil
	}
	hits, err := m.corpus.SearchThreshold(ctx, f.Embedding, m.threshold)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		frag  *models.Fragment
		score float64
	}
	var cands []candidate
	for _, h := range hits {
		if h.Fragment.Category != want || h.Fragment.NoteID == f.NoteID {
			continue
		}
		cands = append(cands, candidate{frag: h.Fragment, score: h.Score})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].frag.ID < cands[j].frag.ID
	})
	out := make([]models.Match, len(cands))
	for i, c := range cands {
		if f.Category == models.CategoryNeed {
			out[i] = newMatch(f, c.frag, c.score)
		} else {
			out[i] = newMatch(c.frag, f, c.score)
		}
	}
	return out, nil
}

// FindMatchesByID is FindMatches for a fragment already in the corpus.
func (m *Matcher) FindMatchesByID(ctx context.Context, id int64) ([]models.Match, error) {
	f, ok := m.corpus.Fragment(id)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fragment %d not found", id)
	}
	return m.FindMatches(ctx, f)
}

// MatchNote returns the matches of every fragment owned by noteID, each (need, available)
// pair once, sorted by score descending, then need id, then available id.
func (m *Matcher) MatchNote(ctx context.Context, noteID string) ([]models.Match, error) {
	frags := m.corpus.FragmentsByNote(noteID)
	if len(frags) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "note %q has no fragments", noteID)
	}
	type pair struct{ need, avail int64 }
	seen := make(map[pair]bool)
	out := []models.Match{}
	for _, f := range frags {
		matches, err := m.FindMatches(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, mt := range matches {
			key := pair{mt.NeedID, mt.AvailableID}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, mt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.NeedID != b.NeedID {
			return a.NeedID < b.NeedID
		}
		return a.AvailableID < b.AvailableID
	})
	m.metrics.MatchesReturned(len(out))
	m.logger.Debug("Matched note", zap.String("note_id", noteID), zap.Int("fragments", len(frags)), zap.Int("matches", len(out)))
	return out, nil
}

func newMatch(need, avail *models.Fragment, score float64) models.Match {
	return models.Match{
		NeedID:          need.ID,
		AvailableID:     avail.ID,
		NeedText:        need.Text,
		AvailableText:   avail.Text,
		NeedNoteID:      need.NoteID,
		AvailableNoteID: avail.NoteID,
		Score:           score,
	}
}
