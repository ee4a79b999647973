// Package kv provides the low-latency key-value layer that holds live
// counters and batch accumulators.
//
// Values are signed 64-bit integers encoded as decimal strings so that the
// Redis and Badger backends are interchangeable and inspectable with
// ordinary tooling (redis-cli, badger CLI).
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv store is closed")

// Store is the capability set the aggregation pipeline needs from the fast
// layer: atomic increment and per-key TTL are the only hard requirements.
type Store interface {
	// Get returns the integer value at key and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)

	// SetNX stores value at key only when key is absent. A zero ttl keeps the
	// key until it is deleted or evicted.
	SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)

	// IncrBy atomically adds delta to key, treating a missing key as 0, and
	// returns the new value. An existing expiration is preserved.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets the time-to-live of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time-to-live and whether the key expires at all.
	// Missing keys report (0, false, nil).
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Scan returns a snapshot of keys starting with prefix. Keys created while
	// the scan is in progress may or may not be included.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}
