// Package kv declares the expiring key/value store used for retry records and outcome
// statistics.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store persists structured values under string keys. Values are JSON encoded; each Set
// replaces the value and its expiry atomically. A ttl <= 0 stores the value without expiry.
type Store interface {
	// Get decodes the value stored under key into dst or returns ErrNotFound.
	Get(ctx context.Context, key string, dst any) error
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that need periodic removal of expired rows.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
