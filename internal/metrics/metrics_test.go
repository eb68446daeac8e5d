package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.FragmentCommitted("need")
	m.FragmentCommitted("need")
	m.EdgesAdded(3)
	m.SuggestionResult(nil)
	m.SuggestionResult(errors.New("x"))
	m.QueryObserved(OutcomeDegraded, 10*time.Millisecond)
	m.CacheLookup(CacheMiss)

	if got := testutil.ToFloat64(m.FragmentsIngested.WithLabelValues("need")); got != 2 {
		t.Errorf("fragments need = %v", got)
	}
	if got := testutil.ToFloat64(m.EdgesCreated); got != 3 {
		t.Errorf("edges = %v", got)
	}
	if got := testutil.ToFloat64(m.SuggestionsFailed); got != 1 {
		t.Errorf("suggestions failed = %v", got)
	}
	if got := testutil.ToFloat64(m.Queries.WithLabelValues(OutcomeDegraded)); got != 1 {
		t.Errorf("degraded queries = %v", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.MatchesReturned(2)
	if got := testutil.ToFloat64(b.MatchesFound); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.FragmentCommitted("chunk")
	m.QueryObserved(OutcomeDone, time.Second)
	m.CorpusSize(1, 1)
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EdgesAdded(1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hiddenthread_graph_edges_created_total 1") {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}
