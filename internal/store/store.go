package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when a key does not exist or has
// already expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the lock store abstraction: a shared key/value store offering
// single-key atomic conditional operations and per-key TTL expiry. It is
// the sole source of truth for who locked a seat first; the lock manager
// holds no in-process state, so any number of service instances may share
// one store. Implementations must treat a TTL of zero as "no expiry".
type Store interface {
	// SetNX creates the key iff it does not already exist. Returns true
	// when the key was created, false when it was already present.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set writes the key unconditionally, replacing any existing value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for the key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// CompareAndSwap replaces the value and resets the TTL iff the current
	// value equals old. Returns false (without error) when the value did
	// not match or the key was gone.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes the key iff the current value equals old.
	// Returns false (without error) when the value did not match or the
	// key was already gone.
	CompareAndDelete(ctx context.Context, key, old string) (bool, error)

	// Scan returns all keys starting with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases the store connection.
	Close(ctx context.Context) error
}
