// Package suggest drafts suggestions for matches and stores them.
package suggest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/storage"
)

const (
	defaultConcurrency = 4
	// relatedContext is how many related fragments ground a drafted suggestion.
	relatedContext = 2
)

// MatchSource finds the matches of a note.
type MatchSource interface {
	MatchNote(ctx context.Context, noteID string) ([]models.Match, error)
}

// ContextSource finds fragments related to a text in the similarity graph.
type ContextSource interface {
	Related(ctx context.Context, text string, limit int, exclude ...string) ([]string, error)
}

// Orchestrator turns matches into suggestions.
type Orchestrator struct {
	summarizer  llm.Summarizer
	store       storage.Storage
	matches     MatchSource
	related     ContextSource
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConcurrency bounds the number of drafts in flight in DraftAll.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMatchSource enables ForNote.
func WithMatchSource(m MatchSource) Option {
	return func(o *Orchestrator) { o.matches = m }
}

// WithContextSource grounds each drafted suggestion in fragments related to the match.
func WithContextSource(c ContextSource) Option {
	return func(o *Orchestrator) { o.related = c }
}

// New creates an orchestrator. store may be nil, in which case nothing is persisted.
func New(summarizer llm.Summarizer, store storage.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		summarizer:  summarizer,
		store:       store,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Draft asks the summarizer for a suggestion connecting the match's need and
// availability. Every call yields a new suggestion id. Nothing is stored.
func (o *Orchestrator) Draft(ctx context.Context, m models.Match) (*models.Suggestion, error) {
	text, err := o.summarizer.Summarize(ctx, llm.SuggestionPrompt(m.NeedText, m.AvailableText, o.relatedTo(ctx, m)...))
	if err == nil && text == "" {
		err = apperr.New(apperr.KindGenerationUnavailable, "summarizer returned no text")
	}
	o.metrics.SuggestionResult(err)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindGenerationUnavailable, apperr.KindTimeout:
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindGenerationUnavailable, err, "draft suggestion")
	}
	return &models.Suggestion{
		ID:        uuid.New().String(),
		Match:     m,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// relatedTo returns graph context for m. Drafting proceeds without it on failure.
func (o *Orchestrator) relatedTo(ctx context.Context, m models.Match) []string {
	if o.related == nil {
		return nil
	}
	texts, err := o.related.Related(ctx, m.NeedText+" "+m.AvailableText, relatedContext, m.NeedText, m.AvailableText)
	if err != nil {
		o.logger.Warn("Related context unavailable", zap.Int64("need_id", m.NeedID),
			zap.Int64("available_id", m.AvailableID), zap.Error(err))
		return nil
	}
	return texts
}

// Failure is a match that could not be drafted.
type Failure struct {
	Match models.Match
	Err   error
}

// DraftAll drafts every match concurrently. Failed matches are skipped and returned as
// failures; successful suggestions keep the order of matches and are stored in one
// transaction. A storage error is returned as err.
func (o *Orchestrator) DraftAll(ctx context.Context, matches []models.Match) ([]*models.Suggestion, []Failure, error) {
	drafted := make([]*models.Suggestion, len(matches))
	errs := make([]error, len(matches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, m := range matches {
		g.Go(func() error {
			// Draft failures stay per-match so one outage does not cancel the rest.
			drafted[i], errs[i] = o.Draft(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	suggestions := make([]*models.Suggestion, 0, len(matches))
	var failures []Failure
	for i, s := range drafted {
		if errs[i] != nil {
			o.logger.Warn("Skipping match, draft failed",
				zap.Int64("need_id", matches[i].NeedID), zap.Int64("available_id", matches[i].AvailableID),
				zap.Error(errs[i]))
			failures = append(failures, Failure{Match: matches[i], Err: errs[i]})
			continue
		}
		suggestions = append(suggestions, s)
	}
	if o.store != nil && len(suggestions) > 0 {
		if err := o.store.CreateSuggestions(ctx, suggestions); err != nil {
			return nil, failures, err
		}
	}
	return suggestions, failures, nil
}

// ForNote drafts and stores suggestions for every current match of noteID.
func (o *Orchestrator) ForNote(ctx context.Context, noteID string) ([]*models.Suggestion, []Failure, error) {
	if o.matches == nil {
		return nil, nil, apperr.New(apperr.KindInternal, "no match source configured")
	}
	matches, err := o.matches.MatchNote(ctx, noteID)
	if err != nil {
		return nil, nil, err
	}
	return o.DraftAll(ctx, matches)
}

// List returns stored suggestions, newest first. An empty noteID lists all notes.
func (o *Orchestrator) List(ctx context.Context, noteID string, limit int) ([]*models.Suggestion, error) {
	if o.store == nil {
		return []*models.Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	out, err := o.store.ListSuggestions(ctx, noteID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Suggestion{}
	}
	return out, nil
}
