// Package cache stores complete Messages API responses so identical
// deterministic requests are answered without a network round trip.
//
// Two byte-store backends implement Store:
//   - RedisStore: shared across processes, recommended when several
//     workers talk to the API with the same key.
//   - MemoryStore: in-process TTL map, zero external dependencies.
//
// Responses wraps a Store and implements client.ResponseCache.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value backend with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
