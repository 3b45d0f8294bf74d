package cache

import (
	"context"
	"time"
)

// Store is the key-value capability the response cache is built on. Entries
// carry a per-entry TTL fixed at write time. Concurrent writers to the same
// key race with last-write-wins semantics; no stronger guarantee is needed.
type Store interface {
	// Get returns the stored bytes for key, or false when absent. Stores may
	// return expired bytes; the cache service re-checks expiry itself.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
