package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/metrics"
)

// GuardConfig bounds calls to a Summarizer.
type GuardConfig struct {
	// Timeout bounds each call. Zero disables it.
	Timeout time.Duration
	// RequestsPerMinute limits call rate. Zero or less disables limiting.
	RequestsPerMinute int
	Burst             int
	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Guard wraps a Summarizer with a timeout, a token-bucket rate limit and a circuit
// breaker. Every failure it returns is an *apperr.Error: timeout, or
// generation_unavailable for provider errors, an open breaker or a rate-limit wait
// that cannot finish before the deadline.
type Guard struct {
	next    Summarizer
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard wraps next.
func NewGuard(next Summarizer, cfg GuardConfig, opts ...GuardOption) *Guard {
	g := &Guard{
		next:    next,
		timeout: cfg.Timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = time.Minute
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "summarizer",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

// State returns the breaker state ("closed", "half-open" or "open").
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// Summarize implements Summarizer.
func (g *Guard) Summarize(ctx context.Context, prompt string) (string, error) {
	cctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(cctx); err != nil {
			g.metrics.SummarizerCall("rejected")
			return "", apperr.Wrap(apperr.KindGenerationUnavailable, err, "summarizer rate limit exceeded")
		}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Summarize(cctx, prompt)
	})
	if err == nil {
		g.metrics.SummarizerCall("ok")
		return out.(string), nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.metrics.SummarizerCall("rejected")
		return "", apperr.Wrap(apperr.KindGenerationUnavailable, err, "summarizer temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
		g.metrics.SummarizerCall("error")
		return "", apperr.Wrap(apperr.KindTimeout, err, "summarizer timed out")
	}
	g.metrics.SummarizerCall("error")
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return "", err
	}
	g.logger.Debug("Summarizer call failed", zap.Error(err))
	return "", apperr.Wrap(apperr.KindGenerationUnavailable, err, "summarizer failed")
}
