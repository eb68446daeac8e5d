package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/metrics"
)

// Store persists embeddings by key. SaveEmbedding must not overwrite an existing key.
type Store interface {
	LoadEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SaveEmbedding(ctx context.Context, key string, vector []float32) error
}

// Cache memoizes embeddings by exact text. Lookups go to an in-memory LRU
// first, then the persistent store; misses call the embedder under a timeout.
// Returned vectors are shared and must not be modified.
type Cache struct {
	embedder   Embedder
	store      Store
	namespace  string
	hot        *lru.Cache[string, []float32]
	group      singleflight.Group
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithTimeout bounds each embedder call. Zero disables the bound.
func WithTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithNamespace scopes keys to the embedder that produced them, so vectors from one
// provider or model are never served for another.
func WithNamespace(ns string) CacheOption {
	return func(c *Cache) {
		c.namespace = ns
	}
}

// NewCache creates a cache in front of embedder. store may be nil for a memory-only cache.
func NewCache(embedder Embedder, store Store, size int, opts ...CacheOption) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if size <= 0 {
		size = 10000
	}
	hot, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{
		embedder:   embedder,
		store:      store,
		hot:        hot,
		dimensions: embedder.Dimensions(),
		timeout:    30 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key returns the cache key for text embedded by the embedder named namespace.
func Key(namespace, text string) string {
	h := sha256.New()
	if namespace != "" {
		h.Write([]byte(namespace))
		h.Write([]byte{0})
	}
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Dimensions returns the embedding dimension.
func (c *Cache) Dimensions() int {
	return c.dimensions
}

// GetOrCompute returns the embedding for text, computing and persisting it on a miss.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	return c.get(ctx, text, true)
}

// Transient returns the embedding for text without persisting a computed value.
func (c *Cache) Transient(ctx context.Context, text string) ([]float32, error) {
	return c.get(ctx, text, false)
}

func (c *Cache) get(ctx context.Context, text string, persist bool) ([]float32, error) {
	key := Key(c.namespace, text)
	if vec, ok := c.hot.Get(key); ok {
		c.metrics.CacheLookup(metrics.CacheHitMemory)
		return vec, nil
	}
	if c.store != nil {
		vec, ok, err := c.store.LoadEmbedding(ctx, key)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load embedding")
		}
		if ok && (c.dimensions == 0 || len(vec) == c.dimensions) {
			c.hot.Add(key, vec)
			c.metrics.CacheLookup(metrics.CacheHitStore)
			return vec, nil
		}
		if ok {
			c.logger.Warn("Stored embedding has wrong dimension, recomputing",
				zap.String("key", key), zap.Int("got", len(vec)), zap.Int("want", c.dimensions))
		}
	}
	c.metrics.CacheLookup(metrics.CacheMiss)

	if !persist {
		return c.compute(ctx, text)
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		vec, err := c.compute(ctx, text)
		if err != nil {
			return nil, err
		}
		if c.store != nil {
			if err := c.store.SaveEmbedding(ctx, key, vec); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, err, "persist embedding")
			}
		}
		c.hot.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *Cache) compute(ctx context.Context, text string) ([]float32, error) {
	cctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	raw, err := c.embedder.Embed(cctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindTimeout, err, "embedding timed out")
		}
		var tagged *apperr.Error
		if errors.As(err, &tagged) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindEmbeddingUnavailable, err, "embedder failed")
	}
	vec, err := Normalize(raw, c.dimensions)
	if err != nil {
		c.logger.Warn("Rejected malformed embedding", zap.Error(err))
		return nil, err
	}
	return vec, nil
}
