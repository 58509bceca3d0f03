// Package cache implements the content-addressed result cache that makes
// repeated analyses idempotent and cheap. Records are keyed by script
// content hash plus provider and model, stored through a minimal byte-KV
// contract, and only ever written once all three stage outputs are present,
// so a hit is always safe to return verbatim.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when the key has no live record.
var ErrNotFound = errors.New("cache: key not found")

// Store is the minimal byte-oriented key-value contract the cache runs on.
// Any byte store satisfies it; this package ships an in-memory map and a
// SQLite-backed implementation.
type Store interface {
	// Get returns the bytes stored at key, or ErrNotFound. Expired records
	// are reported as not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores val at key with the given time-to-live, overwriting any
	// existing record. A non-positive ttl means no expiry.
	Put(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Delete removes the record at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Sweep removes records that expired at or before now and returns how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Len returns the number of live records.
	Len(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
