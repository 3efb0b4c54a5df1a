// Package blobcache defines the byte-store abstraction behind the persistent
// payload cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// or appended metadata, no re-encoding, no mutation). Compression and framing
// are applied above this interface, so a store that transforms values
// internally must fully reverse the transform on read.
//
// Single-key writes must be atomic: a concurrent reader sees either the old
// value or the new value, never a splice of both. That is the only
// concurrency guarantee the pipeline relies on.
package blobcache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks backend-down conditions (closed database, refused
// connection). The pipeline treats any Get error as a soft miss, but wrapping
// this sentinel lets callers distinguish an outage from a one-off IO error.
var ErrUnavailable = errors.New("blobcache: backend unavailable")

// Store is a minimal byte store. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no expiry; backends without per-entry
	// TTL may approximate with a store-wide retention window.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
