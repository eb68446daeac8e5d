// Package server provides the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/indexer"
	"github.com/hyperjump/hiddenthread/internal/matcher"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/search"
	"github.com/hyperjump/hiddenthread/internal/storage"
	"github.com/hyperjump/hiddenthread/internal/suggest"
)

// WatchService reports the directories being watched.
type WatchService interface {
	Directories() []string
}

// BreakerState reports the summarizer circuit breaker state.
type BreakerState interface {
	State() string
}

// Deps are the components the API serves. Watch, Breaker and Metrics are optional.
type Deps struct {
	Indexer     *indexer.Indexer
	Engine      *search.Engine
	Matcher     *matcher.Matcher
	Suggestions *suggest.Orchestrator
	Corpus      *corpus.Corpus
	Storage     storage.Storage
	Metrics     *metrics.Metrics
	Watch       WatchService
	Breaker     BreakerState
	// Config is reported by the status endpoint.
	Config *config.Config
}

// Server is the HTTP server for the API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
}

// Router returns the API handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fragments", s.handleIngestFragment)
		r.Get("/fragments/search", s.handleFragmentSearch)
		r.Get("/fragments/{id}", s.handleGetFragment)

		r.Post("/notes", s.handleIngestNote)
		r.Post("/notes/batch", s.handleIngestNotes)
		r.Get("/notes/{id}", s.handleGetNote)
		r.Get("/notes/{id}/matches", s.handleNoteMatches)
		r.Post("/notes/{id}/suggestions", s.handleDraftSuggestions)
		r.Get("/suggestions", s.handleListSuggestions)

		r.Post("/documents", s.handleIngestDocument)
		r.Get("/documents/{id}", s.handleGetDocument)

		r.Post("/query", s.handleQuery)
		r.Get("/graph", s.handleGraphInfo)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
