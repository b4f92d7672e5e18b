package entitycache

import (
	"context"
	"time"
)

// Store holds serialized entries with a TTL and a set of tags.
type Store interface {
	// Get returns a live entry. Expired entries are misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	// InvalidateTags removes every entry carrying any of tags and returns
	// how many were removed.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}
