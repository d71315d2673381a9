// Package idempotency wraps state-mutating calls so a retried submission with
// the same key takes effect exactly once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome is the result of admitting a key.
type Outcome string

const (
	// FirstUse means the caller must proceed and perform the real operation.
	FirstUse Outcome = "first_use"
	// Duplicate means the operation was already attempted with this key and
	// side effects must not be repeated.
	Duplicate Outcome = "duplicate"
)

// Store is the atomic set-if-absent-with-expiry primitive behind the guard.
// SetIfAbsent returns true when the key was newly recorded, false when it
// already existed. Records expire after ttl and are never updated.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Metrics counts guard outcomes.
type Metrics struct {
	Duplicates prometheus.Counter
	FailOpen   prometheus.Counter
}

// NewMetrics creates and registers the idempotency metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_idempotency_duplicates_total",
			Help: "Submissions rejected as duplicates of an earlier key use",
		}),
		FailOpen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_idempotency_fail_open_total",
			Help: "Admissions granted without deduplication because the store was unreachable",
		}),
	}
}

// Guard dedupes state-mutating calls.
//
// When the backing store is unreachable the guard fails open: every call is
// treated as FirstUse and a warning is logged. Duplicate suppression is
// best-effort under store outages; availability of the decision path wins.
type Guard struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Guard)

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// NewGuard creates a guard with the given default TTL.
func NewGuard(store Store, ttl time.Duration, logger *slog.Logger, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{store: store, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Admit records the key if unseen. FirstUse means proceed; Duplicate means
// the caller must not repeat side effects. Never returns an error: store
// failures degrade to FirstUse.
func (g *Guard) Admit(ctx context.Context, key string) Outcome {
	fresh, err := g.store.SetIfAbsent(ctx, key, g.ttl)
	if err != nil {
		g.logger.Warn("idempotency store unreachable, failing open",
			"key_prefix", keyPrefixForLog(key),
			"error", err,
		)
		if g.metrics != nil {
			g.metrics.FailOpen.Inc()
		}
		return FirstUse
	}
	if !fresh {
		if g.metrics != nil {
			g.metrics.Duplicates.Inc()
		}
		return Duplicate
	}
	return FirstUse
}

// DeriveKey builds a key from the operation name, the canonicalized payload,
// and (optionally) the acting user, for callers that did not supply one.
func DeriveKey(operation string, payload []byte, actorID string) string {
	if actorID == "" {
		actorID = "anonymous"
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s", operation, payload, actorID)
	return hex.EncodeToString(h.Sum(nil))
}

// keyPrefixForLog truncates keys in logs; full keys are caller secrets.
func keyPrefixForLog(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
