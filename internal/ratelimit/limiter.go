package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Limiter caps how many decisions an approver may submit per window.
//
// The primary store is Redis. A circuit breaker tracks consecutive store
// errors; while open, checks run against an in-memory fallback window so
// limiting keeps working during an outage. A single error before the
// circuit opens fails open with a warning.
type Limiter struct {
	primary  WindowStore
	fallback WindowStore
	breaker  *circuitBreaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Limiter)

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithFallback replaces the in-memory fallback store.
func WithFallback(store WindowStore) Option {
	return func(l *Limiter) {
		l.fallback = store
	}
}

// NewLimiter creates a limiter allowing limit events per window per key.
func NewLimiter(primary WindowStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) (*Limiter, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary window store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		primary:  primary,
		fallback: NewMemoryStore(),
		breaker:  newCircuitBreaker(),
		limit:    limit,
		window:   window,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow checks and records one submission for the key. It never returns an
// error: store failures degrade to the fallback or to allowing the request.
func (l *Limiter) Allow(ctx context.Context, key string) *Result {
	if l.breaker.IsOpen() {
		return l.allowFallback(ctx, key)
	}

	res, err := l.primary.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		opened := l.breaker.RecordFailure()
		l.logger.Warn("rate limit store error", "key", key, "circuit_open", opened, "error", err)
		if opened {
			if l.metrics != nil {
				l.metrics.CircuitOpened.Inc()
			}
			return l.allowFallback(ctx, key)
		}
		if l.metrics != nil {
			l.metrics.FailOpen.Inc()
		}
		return &Result{Allowed: true, Limit: l.limit, Remaining: l.limit - 1, ResetAt: time.Now().Add(l.window)}
	}

	l.breaker.RecordSuccess()
	l.count(res)
	return res
}

func (l *Limiter) allowFallback(ctx context.Context, key string) *Result {
	res, err := l.fallback.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		l.logger.Warn("fallback rate limit store error", "key", key, "error", err)
		if l.metrics != nil {
			l.metrics.FailOpen.Inc()
		}
		return &Result{Allowed: true, Limit: l.limit, Remaining: l.limit - 1, ResetAt: time.Now().Add(l.window)}
	}
	l.count(res)
	return res
}

func (l *Limiter) count(res *Result) {
	if l.metrics == nil {
		return
	}
	if res.Allowed {
		l.metrics.Checks.WithLabelValues("allowed").Inc()
	} else {
		l.metrics.Checks.WithLabelValues("rejected").Inc()
	}
}

// Limit reports the configured per-window cap.
func (l *Limiter) Limit() int { return l.limit }

// Window reports the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }
