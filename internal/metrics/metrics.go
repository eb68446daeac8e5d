// Package metrics holds the Prometheus collectors for the engine.
//
// Every Metrics value owns its registry so tests can build as many as they
// like without duplicate-registration panics. All methods accept a nil receiver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hiddenthread"

// Query outcomes used as the "outcome" label.
const (
	OutcomeDone     = "done"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Cache lookup results used as the "result" label.
const (
	CacheHitMemory = "hit_memory"
	CacheHitStore  = "hit_store"
	CacheMiss      = "miss"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	FragmentsIngested  *prometheus.CounterVec
	EdgesCreated       prometheus.Counter
	MatchesFound       prometheus.Counter
	SuggestionsDrafted prometheus.Counter
	SuggestionsFailed  prometheus.Counter
	Queries            *prometheus.CounterVec
	QueryDuration      prometheus.Histogram
	EmbeddingCache     *prometheus.CounterVec
	SummarizerCalls    *prometheus.CounterVec
	CorpusFragments    prometheus.Gauge
	GraphEdges         prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		FragmentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_ingested_total",
			Help:      "Total number of fragments committed to the corpus",
		}, []string{"category"}),
		EdgesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_edges_created_total",
			Help:      "Total number of similarity edges created",
		}),
		MatchesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_found_total",
			Help:      "Total number of need/availability matches returned",
		}),
		SuggestionsDrafted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_drafted_total",
			Help:      "Total number of suggestions drafted",
		}),
		SuggestionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_failed_total",
			Help:      "Total number of suggestion drafts that failed",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of graph queries by outcome",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Graph query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		EmbeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result",
		}, []string{"result"}),
		SummarizerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_calls_total",
			Help:      "Summarizer calls by status",
		}, []string{"status"}),
		CorpusFragments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_fragments",
			Help:      "Number of fragments in the vector index",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Number of edges in the similarity graph",
		}),
	}
	registry.MustRegister(
		m.FragmentsIngested,
		m.EdgesCreated,
		m.MatchesFound,
		m.SuggestionsDrafted,
		m.SuggestionsFailed,
		m.Queries,
		m.QueryDuration,
		m.EmbeddingCache,
		m.SummarizerCalls,
		m.CorpusFragments,
		m.GraphEdges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FragmentCommitted records one committed fragment.
func (m *Metrics) FragmentCommitted(category string) {
	if m == nil {
		return
	}
	m.FragmentsIngested.WithLabelValues(category).Inc()
}

// EdgesAdded records n new graph edges.
func (m *Metrics) EdgesAdded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EdgesCreated.Add(float64(n))
}

// CorpusSize sets the corpus gauges.
func (m *Metrics) CorpusSize(fragments, edges int) {
	if m == nil {
		return
	}
	m.CorpusFragments.Set(float64(fragments))
	m.GraphEdges.Set(float64(edges))
}

// MatchesReturned records n matches.
func (m *Metrics) MatchesReturned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MatchesFound.Add(float64(n))
}

// SuggestionResult records one draft attempt.
func (m *Metrics) SuggestionResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SuggestionsFailed.Inc()
		return
	}
	m.SuggestionsDrafted.Inc()
}

// QueryObserved records a finished query.
func (m *Metrics) QueryObserved(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

// CacheLookup records an embedding cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}

// SummarizerCall records a summarizer call by status ("ok", "error", "rejected").
func (m *Metrics) SummarizerCall(status string) {
	if m == nil {
		return
	}
	m.SummarizerCalls.WithLabelValues(status).Inc()
}
