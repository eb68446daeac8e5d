package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/embedding"
	"github.com/hyperjump/hiddenthread/internal/extract"
	"github.com/hyperjump/hiddenthread/internal/indexer"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/matcher"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/search"
	"github.com/hyperjump/hiddenthread/internal/storage"
	"github.com/hyperjump/hiddenthread/internal/suggest"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Corpus       *corpus.Corpus
	KeywordIndex keyword.FragmentIndex
	Guard        *llm.Guard
	Metrics      *metrics.Metrics
	Engine       *search.Engine
	Indexer      *indexer.Indexer
	Matcher      *matcher.Matcher
	Suggestions  *suggest.Orchestrator
}

// Close releases every component that holds resources.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Corpus != nil {
		_ = c.Corpus.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

// newEmbedder builds the configured embedder and the namespace its vectors are cached under.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, string, error) {
	mockNamespace := fmt.Sprintf("mock:%d", cfg.Dimensions)
	switch cfg.Provider {
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(cfg.BaseURL, config.APIKey(cfg.APIKeyEnv), cfg.Model, cfg.Dimensions)
		return e, fmt.Sprintf("openai:%s:%d", cfg.Model, cfg.Dimensions), err
	case "mock":
		return embedding.NewMockEmbedder(cfg.Dimensions), mockNamespace, nil
	}
	e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embeddings", zap.String("model_path", cfg.ModelPath), zap.Error(err))
		return embedding.NewMockEmbedder(cfg.Dimensions), mockNamespace, nil
	}
	return e, fmt.Sprintf("onnx:%s:%d", filepath.Base(cfg.ModelPath), cfg.Dimensions), nil
}

func newSummarizer(cfg *config.LLMConfig, m *metrics.Metrics, logger *zap.Logger) (*llm.Guard, error) {
	var next llm.Summarizer = llm.Disabled{}
	if cfg.Provider == "openai" {
		client, err := llm.NewOpenAIClient(cfg.BaseURL, config.APIKey(cfg.APIKeyEnv), cfg.Model)
		if err != nil {
			return nil, err
		}
		next = client
	}
	return llm.NewGuard(next, llm.GuardConfig{
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
	}, llm.WithLogger(logger), llm.WithMetrics(m)), nil
}

// initializeComponents wires storage, embedding, corpus and the engines, then restores
// the corpus from storage.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.New()}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, namespace, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder
	cache, err := embedding.NewCache(c.Embedder, store, cfg.Embedding.CacheSize,
		embedding.WithLogger(logger), embedding.WithMetrics(c.Metrics), embedding.WithTimeout(cfg.Embedding.Timeout),
		embedding.WithNamespace(namespace))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	index, err := vector.NewVectorIndex(string(vector.IndexTypeMemory), cfg.Embedding.Dimensions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.Corpus = corpus.New(index, cfg.Engine.SimilarityThreshold)

	if c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	if c.Guard, err = newSummarizer(&cfg.LLM, c.Metrics, logger); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize summarizer: %w", err)
	}

	c.Indexer = indexer.NewIndexer(store, cache, c.Corpus, &cfg.Engine,
		indexer.WithLogger(logger),
		indexer.WithMetrics(c.Metrics),
		indexer.WithKeywordIndex(c.KeywordIndex),
		indexer.WithNoteExtractor(llm.NewNoteExtractor(c.Guard)),
		indexer.WithFileExtractor(extract.NewExtractor()),
		indexer.WithExtensions(cfg.Watch.Extensions))
	c.Engine = search.NewEngine(cache, c.Corpus, c.Guard, &cfg.Engine,
		search.WithLogger(logger), search.WithMetrics(c.Metrics), search.WithKeywordIndex(c.KeywordIndex))
	c.Matcher = matcher.New(c.Corpus, cfg.Engine.MatchThreshold, matcher.WithLogger(logger), matcher.WithMetrics(c.Metrics))
	c.Suggestions = suggest.New(c.Guard, store,
		suggest.WithLogger(logger), suggest.WithMetrics(c.Metrics),
		suggest.WithConcurrency(cfg.Engine.DraftConcurrency), suggest.WithMatchSource(c.Matcher),
		suggest.WithContextSource(c.Engine))

	if _, err := c.Indexer.Restore(ctx, cfg.Storage.IndexPath); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
