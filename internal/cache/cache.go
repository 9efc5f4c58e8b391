// Package cache provides the route resolution cache: a Redis-backed string
// cache plus the positive/negative entry semantics layered on top of it.
package cache

import (
	"context"
	"time"
)

// Cache defines the operations the route cache needs from its backing store
type Cache interface {
	// Get retrieves a value. The second return is false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value with the given TTL
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies connectivity
	Ping(ctx context.Context) error
	// Close closes the connection
	Close() error
}
