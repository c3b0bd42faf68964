// Package limiter provides the shared counters behind connection ceilings and rate limits.
package limiter

import (
	"context"
	"time"
)

// Counter is an atomic bounded counter shared across connections.
type Counter interface {
	// IncrementAndCheck increments key if it is below limit and reports whether it did.
	// window > 0 starts an expiry on the first increment of a fresh key.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Decrement releases one unit of key, never going below zero.
	Decrement(ctx context.Context, key string) error
}

// Window is a fixed-window message counter owned by a single connection. Not safe for concurrent use.
type Window struct {
	limit int
	size  time.Duration
	start time.Time
	count int
}

// NewWindow returns a window allowing limit events per size.
func NewWindow(limit int, size time.Duration) *Window {
	return &Window{limit: limit, size: size}
}

// Allow records an event at now and reports whether it is within the limit.
func (w *Window) Allow(now time.Time) bool {
	if w.start.IsZero() || now.Sub(w.start) >= w.size {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count <= w.limit
}
