// Package ratelimit implements a client-side requests-per-minute budget
// shared through Redis, so several processes using the same API key stay
// under one limit.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is an atomic Lua script that implements a sliding window
// rate limiter using a sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))
		return 1
`)

const keyPrefix = "anthropic:rpm:"

// RPMLimiter enforces a requests-per-minute limit with a Redis sliding
// window.
type RPMLimiter struct {
	rdb    *redis.Client
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRPMLimiter returns a limiter allowing limit requests per minute for
// the bucket named by scope, typically the API key. The scope is hashed
// before use so secrets never appear in Redis keys.
func NewRPMLimiter(rdb *redis.Client, scope string, limit int) *RPMLimiter {
	sum := sha256.Sum256([]byte(scope))
	return &RPMLimiter{
		rdb:    rdb,
		key:    keyPrefix + hex.EncodeToString(sum[:8]),
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow reports whether one more request fits in the current window. When
// Redis is unavailable it returns (true, err): the caller decides whether
// to log, but the request is never blocked by limiter trouble.
func (r *RPMLimiter) Allow(ctx context.Context) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	result, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{r.key},
		r.now().UnixNano(), r.window.Nanoseconds(), r.limit,
	).Int()
	if err != nil {
		return true, fmt.Errorf("ratelimit: %w", err)
	}
	return result == 1, nil
}
