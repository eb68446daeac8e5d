package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/storage"
	"github.com/hyperjump/hiddenthread/internal/suggest"
)

const maxBodyBytes = 8 << 20

type noteResponse struct {
	Note      *models.Note       `json:"note"`
	Fragments []*models.Fragment `json:"fragments"`
}

type documentResponse struct {
	Document  *models.Document   `json:"document"`
	Fragments []*models.Fragment `json:"fragments"`
}

type neighborResponse struct {
	ID     int64   `json:"id"`
	Weight float64 `json:"weight"`
}

type fragmentResponse struct {
	*models.Fragment
	Neighbors []neighborResponse `json:"neighbors"`
}

type failureResponse struct {
	NeedID      int64  `json:"need_id"`
	AvailableID int64  `json:"available_id"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

type suggestionsResponse struct {
	Suggestions []*models.Suggestion `json:"suggestions"`
	Failures    []failureResponse    `json:"failures"`
}

type noteBatchResponse struct {
	ProcessedNotes []*models.Note       `json:"processed_notes"`
	Suggestions    []*models.Suggestion `json:"suggestions"`
	Failures       []failureResponse    `json:"failures"`
}

func failureResponses(failures []suggest.Failure) []failureResponse {
	out := make([]failureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureResponse{
			NeedID:      f.Match.NeedID,
			AvailableID: f.Match.AvailableID,
			Error:       string(apperr.KindOf(f.Err)),
			Message:     apperr.MessageOf(f.Err),
		})
	}
	return out
}

func (s *Server) handleIngestFragment(w http.ResponseWriter, r *http.Request) {
	var in models.FragmentInput
	if !s.decode(w, r, &in) {
		return
	}
	f, err := s.deps.Indexer.Ingest(r.Context(), in.Text, in.Category, in.NoteID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, f)
}

func (s *Server) handleIngestNote(w http.ResponseWriter, r *http.Request) {
	var in models.NoteInput
	if !s.decode(w, r, &in) {
		return
	}
	note, frags, err := s.deps.Indexer.IngestNote(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, noteResponse{Note: note, Fragments: frags})
}

// handleIngestNotes ingests a batch of notes, then drafts suggestions for every match
// the new notes take part in. Drafting failures are reported per match.
func (s *Server) handleIngestNotes(w http.ResponseWriter, r *http.Request) {
	var in models.NoteBatchInput
	if !s.decode(w, r, &in) {
		return
	}
	notes, _, err := s.deps.Indexer.IngestNotes(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	var matches []models.Match
	seen := make(map[[2]int64]bool)
	for _, n := range notes {
		found, err := s.deps.Matcher.MatchNote(r.Context(), n.ID)
		if apperr.KindOf(err) == apperr.KindNotFound {
			continue
		}
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		for _, m := range found {
			key := [2]int64{m.NeedID, m.AvailableID}
			if !seen[key] {
				seen[key] = true
				matches = append(matches, m)
			}
		}
	}
	suggestions, failures, err := s.deps.Suggestions.DraftAll(r.Context(), matches)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []*models.Suggestion{}
	}
	s.respondJSON(w, http.StatusCreated, noteBatchResponse{
		ProcessedNotes: notes,
		Suggestions:    suggestions,
		Failures:       failureResponses(failures),
	})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.deps.Storage.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.deps.Matcher.MatchNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func (s *Server) handleDraftSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, failures, err := s.deps.Suggestions.ForNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := suggestionsResponse{Suggestions: suggestions, Failures: failureResponses(failures)}
	status := http.StatusCreated
	if len(suggestions) == 0 && len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 50)
	if !ok {
		return
	}
	list, err := s.deps.Suggestions.List(r.Context(), r.URL.Query().Get("note_id"), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": list})
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var in models.DocumentInput
	if !s.decode(w, r, &in) {
		return
	}
	doc, frags, err := s.deps.Indexer.IngestDocument(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, documentResponse{Document: doc, Fragments: frags})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetFragment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondErr(w, r, apperr.New(apperr.KindValidation, "fragment id must be an integer"))
		return
	}
	f, ok := s.deps.Corpus.Fragment(id)
	if !ok {
		s.respondErr(w, r, apperr.New(apperr.KindNotFound, "fragment not found: %d", id))
		return
	}
	resp := fragmentResponse{Fragment: f, Neighbors: []neighborResponse{}}
	for _, n := range s.deps.Corpus.Neighbors(id) {
		resp.Neighbors = append(resp.Neighbors, neighborResponse{ID: n.ID, Weight: n.Weight})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFragmentSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 10)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := &keyword.SearchOptions{
		Category:     models.Category(q.Get("category")),
		NoteID:       q.Get("note_id"),
		FuzzyEnabled: q.Get("fuzzy") == "true",
	}
	hits, err := s.deps.Engine.Lookup(r.Context(), q.Get("q"), limit, opts)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Engine.Query(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGraphInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Corpus.Info())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Storage.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"storage":           stats,
		"graph":             s.deps.Corpus.Info(),
		"vector_index_size": s.deps.Corpus.Size(),
		"dimensions":        s.deps.Corpus.Dimensions(),
	}
	if s.deps.Breaker != nil {
		resp["summarizer_breaker"] = s.deps.Breaker.State()
	}
	if s.deps.Watch != nil {
		resp["watch_directories"] = s.deps.Watch.Directories()
	}
	if cfg := s.deps.Config; cfg != nil {
		resp["config"] = map[string]interface{}{
			"match_threshold":       cfg.Engine.MatchThreshold,
			"similarity_threshold":  cfg.Engine.SimilarityThreshold,
			"embedding_provider":    cfg.Embedding.Provider,
			"embedding_dimensions":  cfg.Embedding.Dimensions,
			"llm_provider":          cfg.LLM.Provider,
			"max_context_fragments": cfg.Engine.MaxContextFragments,
		}
		if fp, err := storage.Footprint(cfg.Storage.DatabasePath, cfg.Storage.IndexPath, cfg.Storage.KeywordIndexPath); err == nil {
			resp["disk_usage"] = fp
			resp["disk_usage_bytes"] = fp.Total()
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.respondErr(w, r, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return false
	}
	return true
}

func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		s.respondErr(w, r, apperr.New(apperr.KindValidation, "%s must be an integer between 1 and 1000", name))
		return 0, false
	}
	return n, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondErr writes {"error": kind, "message": msg}. Causes are logged, never sent.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		s.logger.Debug("Request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": string(kind), "message": apperr.MessageOf(err)})
}
