// Package ratelimit enforces a per-approver sliding-window cap on decision
// submissions.
package ratelimit

import (
	"context"
	"time"
)

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// WindowStore counts events in a sliding window and admits or rejects the
// next one atomically.
type WindowStore interface {
	// Allow records one event under key if fewer than limit occurred within
	// window, and reports the resulting state either way.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}
