// Package store holds the keyed state used by the defense engine: per-client
// records, the blocked set and rate-limit counters. The in-memory backend is
// the default; the Redis backend lets several instances share one view.
package store

import (
	"context"
	"time"
)

// Store is a keyed value container. A zero ttl means the entry never expires.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Range calls fn for every live entry until fn returns false.
	Range(ctx context.Context, fn func(key string, value V) bool) error
	Len(ctx context.Context) (int, error)
}

// Counter is one fixed rate-limit window.
type Counter struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// Expired reports whether the window has closed at now.
func (c Counter) Expired(now time.Time) bool {
	return !now.Before(c.ResetTime)
}

// CounterStore keeps rate-limit windows keyed by "identifier:rule".
type CounterStore interface {
	Get(ctx context.Context, key string) (Counter, bool, error)
	// Set starts a new window; the entry expires at c.ResetTime.
	Set(ctx context.Context, key string, c Counter) error
	Increment(ctx context.Context, key string) (Counter, error)
	Decrement(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	// Sweep drops windows that closed before now and returns how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}
