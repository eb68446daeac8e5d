package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/embedding"
	"github.com/hyperjump/hiddenthread/internal/indexer"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/matcher"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/search"
	"github.com/hyperjump/hiddenthread/internal/storage"
	"github.com/hyperjump/hiddenthread/internal/suggest"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

const (
	needText  = "need: quiet reading space"
	availText = "available: library membership nearby"
	question  = "where can I read quietly?"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

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

// fakeLLM extracts notes, drafts suggestions and fails every query prompt.
func fakeLLM(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "note analyzer") && strings.Contains(prompt, "pump"):
		return `{"sentiments": [], "resources_needed": [], "resources_available": ["a spare pump"]}`, nil
	case strings.Contains(prompt, "note analyzer") && strings.Contains(prompt, "nothing"):
		return `{"sentiments": ["content"], "resources_needed": [], "resources_available": []}`, nil
	case strings.Contains(prompt, "note analyzer"):
		return "```json\n{\"sentiments\": [\"calm\"], \"resources_needed\": [\"a bike repair\"], \"resources_available\": []}\n```", nil
	case strings.Contains(prompt, "actionable suggestion"):
		return "Ask for a library card.", nil
	}
	return "", errors.New("summarizer outage")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	emb := embedding.NewMapEmbedder(3, map[string][]float32{
		needText:        unit(1, 0, 0),
		availText:       unit(0.42, math.Sqrt(1-0.42*0.42), 0),
		question:        unit(0.4, 1, 0),
		"a bike repair": unit(0, 0, 1),
		"a spare pump":  unit(0, 0.2, 1),
	})
	m := metrics.New()
	cache, err := embedding.NewCache(emb, store, 100, embedding.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewMemoryIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	c := corpus.New(idx, 0.2)
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	cfg := config.Default()
	summarizer := llm.SummarizerFunc(fakeLLM)
	mt := matcher.New(c, cfg.Engine.MatchThreshold, matcher.WithMetrics(m))
	deps := Deps{
		Indexer: indexer.NewIndexer(store, cache, c, &cfg.Engine,
			indexer.WithKeywordIndex(kw), indexer.WithMetrics(m),
			indexer.WithNoteExtractor(llm.NewNoteExtractor(summarizer))),
		Engine:      search.NewEngine(cache, c, summarizer, &cfg.Engine, search.WithKeywordIndex(kw), search.WithMetrics(m)),
		Matcher:     mt,
		Suggestions: suggest.New(summarizer, store, suggest.WithMatchSource(mt), suggest.WithMetrics(m)),
		Corpus:      c,
		Storage:     store,
		Metrics:     m,
		Watch:       &mockWatchService{dirs: []string{"/tmp/notes"}},
		Config:      cfg,
	}
	return NewServer(deps, &cfg.Server, nil)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func seed(t *testing.T, h http.Handler) {
	t.Helper()
	for _, in := range []models.FragmentInput{
		{Text: needText, Category: models.CategoryNeed, NoteID: "1"},
		{Text: availText, Category: models.CategoryAvailable, NoteID: "2"},
	} {
		if w := do(t, h, http.MethodPost, "/api/v1/fragments", in); w.Code != http.StatusCreated {
			t.Fatalf("ingest %q: status %d body %s", in.Text, w.Code, w.Body.String())
		}
	}
}

func TestHandleHealth(t *testing.T) {
	w := do(t, newTestServer(t).Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleIngestFragment_errors(t *testing.T) {
	h := newTestServer(t).Router()
	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"bad json", "{", http.StatusBadRequest, "validation"},
		{"unknown field", `{"text":"x","category":"need","note_id":"1","extra":1}`, http.StatusBadRequest, "validation"},
		{"bad category", models.FragmentInput{Text: "x", Category: "wish", NoteID: "1"}, http.StatusBadRequest, "validation"},
		{"missing note", models.FragmentInput{Text: "x", Category: models.CategoryNeed}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/fragments", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status: got %d, want %d", w.Code, tt.status)
			}
			var out map[string]string
			decode(t, w, &out)
			if out["error"] != tt.kind || out["message"] == "" {
				t.Errorf("body: got %v", out)
			}
		})
	}
}

func TestHandleNoteMatches(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodGet, "/api/v1/notes/1/matches", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out struct {
		Matches []models.Match `json:"matches"`
	}
	decode(t, w, &out)
	if len(out.Matches) != 1 {
		t.Fatalf("matches: got %v", out.Matches)
	}
	if got := out.Matches[0]; got.NeedID != 1 || got.AvailableID != 2 || math.Abs(got.Score-0.42) > 1e-6 {
		t.Errorf("match: got %+v", got)
	}

	w = do(t, h, http.MethodGet, "/api/v1/notes/nope/matches", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown note: got %d", w.Code)
	}
}

func TestHandleSuggestions(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodPost, "/api/v1/notes/1/suggestions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var drafted suggestionsResponse
	decode(t, w, &drafted)
	if len(drafted.Suggestions) != 1 || drafted.Suggestions[0].Text != "Ask for a library card." {
		t.Fatalf("suggestions: got %+v", drafted)
	}

	w = do(t, h, http.MethodGet, "/api/v1/suggestions?note_id=2", nil)
	var listed struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	decode(t, w, &listed)
	if len(listed.Suggestions) != 1 || listed.Suggestions[0].ID != drafted.Suggestions[0].ID {
		t.Errorf("listed: got %+v", listed)
	}

	w = do(t, h, http.MethodGet, "/api/v1/suggestions?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", w.Code)
	}
}

func TestHandleQuery_degraded(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodPost, "/api/v1/query", models.QueryRequest{Query: question, TopK: models.IntPtr(1), MaxDepth: models.IntPtr(2)})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var res models.QueryResult
	decode(t, w, &res)
	if !res.Degraded || res.State != models.QueryDegraded {
		t.Errorf("expected degraded result, got %+v", res)
	}
	if !strings.Contains(res.Response, availText) {
		t.Errorf("response should carry raw fragments: %q", res.Response)
	}
	if len(res.TraversalPath) != 2 || res.TraversalPath[0] != 2 {
		t.Errorf("traversal path: got %v", res.TraversalPath)
	}

	w = do(t, h, http.MethodPost, "/api/v1/query", models.QueryRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d", w.Code)
	}
}

func TestHandleQuery_zeroDepth(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodPost, "/api/v1/query", `{"query": "`+question+`", "top_k": 1, "max_depth": 0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var res models.QueryResult
	decode(t, w, &res)
	if len(res.TraversalPath) != 1 || res.TraversalPath[0] != 2 {
		t.Errorf("max_depth 0 should keep only the seed, got %v", res.TraversalPath)
	}
}

func TestHandleIngestNote(t *testing.T) {
	h := newTestServer(t).Router()
	w := do(t, h, http.MethodPost, "/api/v1/notes", models.NoteInput{ID: "n1", Content: "My bike is broken and I feel calm."})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out noteResponse
	decode(t, w, &out)
	if out.Note.ID != "n1" || len(out.Fragments) != 1 || out.Fragments[0].Category != models.CategoryNeed {
		t.Errorf("note: got %+v", out)
	}

	w = do(t, h, http.MethodGet, "/api/v1/notes/n1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get note: got %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/v1/notes", models.NoteInput{ID: "n1", Content: "again"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate note: got %d", w.Code)
	}
}

func TestHandleIngestNotes(t *testing.T) {
	h := newTestServer(t).Router()
	w := do(t, h, http.MethodPost, "/api/v1/notes/batch", models.NoteBatchInput{Notes: []models.NoteInput{
		{ID: "a", Content: "My bike is broken."},
		{ID: "b", Content: "I can lend a pump."},
		{ID: "c", Content: "I need nothing today."},
	}})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out struct {
		ProcessedNotes []models.Note       `json:"processed_notes"`
		Suggestions    []models.Suggestion `json:"suggestions"`
		Failures       []failureResponse   `json:"failures"`
	}
	decode(t, w, &out)
	if len(out.ProcessedNotes) != 3 || out.ProcessedNotes[0].ID != "a" || out.ProcessedNotes[1].ID != "b" {
		t.Fatalf("processed notes: got %+v", out.ProcessedNotes)
	}
	if len(out.Suggestions) != 1 || out.Suggestions[0].Text != "Ask for a library card." {
		t.Errorf("one suggestion expected for the a/b match, got %+v", out.Suggestions)
	}
	if len(out.Failures) != 0 {
		t.Errorf("failures: got %+v", out.Failures)
	}

	w = do(t, h, http.MethodPost, "/api/v1/notes/batch", models.NoteBatchInput{Notes: []models.NoteInput{{ID: "a", Content: "again"}}})
	if w.Code != http.StatusConflict {
		t.Errorf("existing id: got %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/v1/notes/batch", `{"notes": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: got %d", w.Code)
	}
}

func TestHandleIngestDocument(t *testing.T) {
	h := newTestServer(t).Router()
	w := do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "doc", Title: "Guide", Content: "The library opens at nine."})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/documents/doc", nil)
	var doc models.Document
	decode(t, w, &doc)
	if doc.Chunks != 1 || doc.Title != "Guide" {
		t.Errorf("document: got %+v", doc)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/documents/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing document: got %d", w.Code)
	}
}

func TestHandleFragments(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodGet, "/api/v1/fragments/1", nil)
	var frag fragmentResponse
	decode(t, w, &frag)
	if frag.Fragment == nil || frag.Text != needText || len(frag.Neighbors) != 1 || frag.Neighbors[0].ID != 2 {
		t.Errorf("fragment: got %+v", frag)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/fragments/99", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing fragment: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/fragments/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/fragments/search?q=library", nil)
	var found struct {
		Results []search.FragmentHit `json:"results"`
	}
	decode(t, w, &found)
	if len(found.Results) != 1 || found.Results[0].Fragment.ID != 2 {
		t.Errorf("search: got %+v", found.Results)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/fragments/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: got %d", w.Code)
	}
}

func TestHandleGraphAndStatus(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)

	w := do(t, h, http.MethodGet, "/api/v1/graph", nil)
	var info models.GraphInfo
	decode(t, w, &info)
	if info.NodeCount != 2 || info.EdgeCount != 1 {
		t.Errorf("graph: got %+v", info)
	}

	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	var status map[string]interface{}
	decode(t, w, &status)
	if status["vector_index_size"] != float64(2) {
		t.Errorf("vector_index_size: got %v", status["vector_index_size"])
	}
	dirs, _ := status["watch_directories"].([]interface{})
	if len(dirs) != 1 || dirs[0] != "/tmp/notes" {
		t.Errorf("watch_directories: got %v", status["watch_directories"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t).Router()
	seed(t, h)
	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hiddenthread_fragments_ingested_total") {
		t.Error("expected fragment counter in metrics output")
	}
}
