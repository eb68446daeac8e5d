// Package search answers questions over the corpus: the query vector seeds a bounded
// breadth-first walk of the similarity graph and the visited fragments are summarized.
package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/embedding"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/models"
)

const (
	// NoResultsResponse answers a query that reached no fragments.
	NoResultsResponse = "I couldn't find relevant information to answer your query."
	// degradedPrefix starts the response built from raw fragments when summarizing fails.
	degradedPrefix = "Based on the relevant information:\n\n"
)

// Engine answers queries. It holds no state of its own besides its dependencies.
type Engine struct {
	cache      *embedding.Cache
	corpus     *corpus.Corpus
	summarizer llm.Summarizer
	keywords   keyword.FragmentIndex
	config     *config.EngineConfig
	onState    func(models.QueryState)
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithKeywordIndex enables Lookup.
func WithKeywordIndex(k keyword.FragmentIndex) EngineOption {
	return func(e *Engine) { e.keywords = k }
}

// WithStateHook calls fn on every state a query enters, in order.
func WithStateHook(fn func(models.QueryState)) EngineOption {
	return func(e *Engine) { e.onState = fn }
}

// NewEngine creates a query engine. summarizer may be llm.Disabled, in which case every
// answer is degraded.
func NewEngine(cache *embedding.Cache, c *corpus.Corpus, summarizer llm.Summarizer, cfg *config.EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		cache:      cache,
		corpus:     c,
		summarizer: summarizer,
		config:     cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query validates req, fills in default top_k and max_depth, and answers it.
func (e *Engine) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	if err := req.Validate(e.config.DefaultTopK, e.config.DefaultMaxDepth); err != nil {
		return nil, err
	}
	return e.Answer(ctx, req.Query, *req.TopK, *req.MaxDepth)
}

// Answer runs embedding, seeding, traversing and summarizing for one query. Failures
// before summarizing abort the call. A summarizer failure ends in the degraded state
// with a response built from the raw fragments. Nothing is retried.
func (e *Engine) Answer(ctx context.Context, query string, topK, maxDepth int) (*models.QueryResult, error) {
	start := time.Now()
	res := &models.QueryResult{Query: query, TraversalPath: []int64{}, RelevantFragments: []string{}}
	finish := func(state models.QueryState, outcome string) {
		e.enter(res, state)
		elapsed := time.Since(start)
		res.QueryTime = elapsed.Milliseconds()
		e.metrics.QueryObserved(outcome, elapsed)
	}

	e.enter(res, models.QueryEmbedding)
	vec, err := e.cache.Transient(ctx, query)
	if err != nil {
		e.metrics.QueryObserved(metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	// Seeding and traversing share one read-locked step so both see the same corpus.
	e.enter(res, models.QuerySeeding)
	ex, err := e.corpus.Explore(ctx, vec, topK, maxDepth, e.config.MaxContextFragments)
	if err != nil {
		e.metrics.QueryObserved(metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	e.enter(res, models.QueryTraversing)
	res.TraversalPath = ex.Path
	res.RelevantFragments = ex.Texts

	e.enter(res, models.QuerySummarizing)
	if len(ex.Texts) == 0 {
		res.Response = NoResultsResponse
		finish(models.QueryDone, metrics.OutcomeDone)
		return res, nil
	}
	answer, err := e.summarizer.Summarize(ctx, llm.QueryPrompt(query, ex.Texts))
	if err == nil && strings.TrimSpace(answer) == "" {
		err = apperr.New(apperr.KindGenerationUnavailable, "summarizer returned no text")
	}
	if err != nil {
		e.logger.Warn("Summarizer failed, returning raw fragments", zap.Error(err))
		res.Response = degradedPrefix + strings.Join(ex.Texts, "\n\n")
		res.Degraded = true
		finish(models.QueryDegraded, metrics.OutcomeDegraded)
		return res, nil
	}
	res.Response = answer
	finish(models.QueryDone, metrics.OutcomeDone)
	e.logger.Debug("Answered query", zap.Int("seeds", len(ex.Seeds)), zap.Int("visited", len(ex.Path)),
		zap.Int64("ms", res.QueryTime))
	return res, nil
}

func (e *Engine) enter(res *models.QueryResult, s models.QueryState) {
	res.State = s
	if e.onState != nil {
		e.onState(s)
	}
}
