package search

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/embedding"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

const question = "where can I read quietly?"

func unit(v ...float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out
}

// recorder is a summarizer that records prompts and fails when err is set.
type recorder struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (r *recorder) Summarize(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return "", r.err
	}
	return "Try the library.", nil
}

type fixture struct {
	engine   *Engine
	embedder *embedding.MapEmbedder
	summary  *recorder
	states   []models.QueryState
}

func engineConfig() *config.EngineConfig {
	return &config.EngineConfig{DefaultTopK: 1, DefaultMaxDepth: 2, MaxContextFragments: 10, SimilarityThreshold: 0.2}
}

func newFixture(t *testing.T, frags []*models.Fragment, opts ...EngineOption) *fixture {
	t.Helper()
	idx, err := vector.NewMemoryIndex(0)
	require.NoError(t, err)
	c := corpus.New(idx, 0.2)
	if len(frags) > 0 {
		_, err = c.Commit(context.Background(), frags)
		require.NoError(t, err)
	}
	emb := embedding.NewMapEmbedder(3, nil)
	emb.Set(question, unit(0.1, 1, 0))
	cache, err := embedding.NewCache(emb, nil, 16)
	require.NoError(t, err)
	f := &fixture{embedder: emb, summary: &recorder{}}
	opts = append([]EngineOption{WithStateHook(func(s models.QueryState) { f.states = append(f.states, s) })}, opts...)
	f.engine = NewEngine(cache, c, f.summary, engineConfig(), opts...)
	return f
}

// scenarioFragments returns A (unrelated need), B (available) and C, with a single B–C
// edge of weight 0.5.
func scenarioFragments() []*models.Fragment {
	return []*models.Fragment{
		{ID: 1, Text: "need: quiet reading space", Category: models.CategoryNeed, NoteID: "1", Embedding: unit(1, 0, 0)},
		{ID: 2, Text: "available: library membership nearby", Category: models.CategoryAvailable, NoteID: "2", Embedding: unit(0, 1, 0)},
		{ID: 3, Text: "the library has a silent floor", Category: models.CategoryChunk, NoteID: "doc", Embedding: unit(0, 0.5, math.Sqrt(0.75))},
	}
}

func TestAnswer_traversesFromSeed(t *testing.T) {
	f := newFixture(t, scenarioFragments())

	res, err := f.engine.Answer(context.Background(), question, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, res.TraversalPath)
	assert.Equal(t, []string{"available: library membership nearby", "the library has a silent floor"}, res.RelevantFragments)
	assert.Equal(t, "Try the library.", res.Response)
	assert.False(t, res.Degraded)
	assert.Equal(t, models.QueryDone, res.State)

	require.Len(t, f.summary.prompts, 1)
	assert.Contains(t, f.summary.prompts[0], question)
	assert.Contains(t, f.summary.prompts[0], "the library has a silent floor")
	assert.Equal(t, []models.QueryState{
		models.QueryEmbedding, models.QuerySeeding, models.QueryTraversing, models.QuerySummarizing, models.QueryDone,
	}, f.states)
}

func TestAnswer_depthZeroKeepsSeeds(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	res, err := f.engine.Answer(context.Background(), question, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.TraversalPath)
}

func TestAnswer_degradedOnSummarizerOutage(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	f.summary.err = apperr.New(apperr.KindGenerationUnavailable, "summarizer is down")

	res, err := f.engine.Answer(context.Background(), question, 1, 2)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, models.QueryDegraded, res.State)
	assert.True(t, strings.HasPrefix(res.Response, "Based on the relevant information:\n\n"))
	assert.Contains(t, res.Response, "available: library membership nearby")
	assert.Contains(t, res.Response, "the library has a silent floor")
	assert.Equal(t, []int64{2, 3}, res.TraversalPath)
	assert.Equal(t, models.QuerySummarizing, f.states[len(f.states)-2])
}

func TestAnswer_disabledSummarizerDegrades(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	f.engine.summarizer = llm.Disabled{}
	res, err := f.engine.Answer(context.Background(), question, 1, 2)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestAnswer_blankSummaryDegrades(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	f.engine.summarizer = llm.SummarizerFunc(func(context.Context, string) (string, error) { return " \n", nil })

	res, err := f.engine.Answer(context.Background(), question, 1, 2)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, models.QueryDegraded, res.State)
	assert.Contains(t, res.Response, "available: library membership nearby")
}

func TestAnswer_emptyCorpus(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.Answer(context.Background(), question, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, NoResultsResponse, res.Response)
	assert.Empty(t, res.TraversalPath)
	assert.Empty(t, res.RelevantFragments)
	assert.False(t, res.Degraded)
	assert.Empty(t, f.summary.prompts)
}

func TestAnswer_embeddingFailureAborts(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	f.embedder.Fail(apperr.New(apperr.KindEmbeddingUnavailable, "provider down"))

	res, err := f.engine.Answer(context.Background(), "a question nobody asked before", 1, 2)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperr.KindEmbeddingUnavailable, apperr.KindOf(err))
	assert.Empty(t, f.summary.prompts)
	assert.Equal(t, []models.QueryState{models.QueryEmbedding}, f.states)
}

func TestAnswer_truncatesContext(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	f.engine.config.MaxContextFragments = 1
	res, err := f.engine.Answer(context.Background(), question, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, res.TraversalPath)
	assert.Equal(t, []string{"available: library membership nearby"}, res.RelevantFragments)
}

func TestAnswer_deterministic(t *testing.T) {
	f := newFixture(t, scenarioFragments())
	first, err := f.engine.Answer(context.Background(), question, 3, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.engine.Answer(context.Background(), question, 3, 2)
		require.NoError(t, err)
		assert.Equal(t, first.TraversalPath, again.TraversalPath)
		assert.Equal(t, first.RelevantFragments, again.RelevantFragments)
	}
}

func TestQuery_validation(t *testing.T) {
	f := newFixture(t, scenarioFragments())

	_, err := f.engine.Query(context.Background(), models.QueryRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := f.engine.Query(context.Background(), models.QueryRequest{Query: question})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, res.TraversalPath)
}

func TestQuery_explicitZeroDepthKeepsSeedsOnly(t *testing.T) {
	f := newFixture(t, scenarioFragments())

	res, err := f.engine.Query(context.Background(), models.QueryRequest{Query: question, MaxDepth: models.IntPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.TraversalPath)
	assert.Equal(t, []string{"available: library membership nearby"}, res.RelevantFragments)
}

func TestRelated(t *testing.T) {
	f := newFixture(t, scenarioFragments())

	texts, err := f.engine.Related(context.Background(), question, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"available: library membership nearby", "the library has a silent floor"}, texts)

	texts, err = f.engine.Related(context.Background(), question, 5, "available: library membership nearby")
	require.NoError(t, err)
	assert.Equal(t, []string{"the library has a silent floor"}, texts)

	texts, err = f.engine.Related(context.Background(), question, 1)
	require.NoError(t, err)
	assert.Len(t, texts, 1)
	assert.Empty(t, f.summary.prompts)
}

func TestLookup(t *testing.T) {
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	frags := scenarioFragments()
	require.NoError(t, kw.IndexFragments(context.Background(), frags))
	f := newFixture(t, frags, WithKeywordIndex(kw))

	hits, err := f.engine.Lookup(context.Background(), "library", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	for _, h := range hits {
		assert.Contains(t, h.Fragment.Text, "library")
		assert.Contains(t, h.Snippet, "library")
	}

	hits, err = f.engine.Lookup(context.Background(), "library -membership", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(3), hits[0].Fragment.ID)

	_, err = f.engine.Lookup(context.Background(), "", 10, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.engine.Lookup(context.Background(), "-library", 10, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLookup_notConfigured(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Lookup(context.Background(), "library", 10, nil)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestNormalizeScores(t *testing.T) {
	got := NormalizeScores([]*keyword.KeywordResult{{ID: 1, Score: 2}, {ID: 2, Score: 1}, {ID: 3, Score: 0}})
	assert.Equal(t, map[int64]float64{1: 1, 2: 0.5, 3: 0}, got)
	assert.Empty(t, NormalizeScores(nil))
}
