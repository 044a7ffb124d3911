// redis.go -- go-redis client and fixed-window rate limiter.
//
// The limiter guards the callback route: each attempt from a client bumps a
// counter; past MaxAttempts the key is locked for LockoutTTL. Nothing about
// tokens or identities is written to Redis.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL and pings the server before returning.
// Call once at startup; the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// allowScript atomically checks the lock, counts the attempt and sets the
// lock once the count passes the limit.
//
//	KEYS[1] attempt counter, KEYS[2] lock
//	ARGV[1] max attempts, ARGV[2] window ms, ARGV[3] lockout ms
//
// Returns 1 when allowed, 0 when locked out.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1])
	return 0
end
return 1
`)

// RedisRateLimiter implements fixed-window rate limiting on a shared Redis client.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a limiter backed by rdb.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records one attempt for key under policy.
// Returns ErrRateLimitExceeded when locked out, a wrapped error on Redis failure.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	// Hash tag keeps both keys in one cluster slot.
	countKey := fmt.Sprintf("ratelimit:{%s}:count", key)
	lockKey := fmt.Sprintf("ratelimit:{%s}:lock", key)

	ok, err := allowScript.Run(ctx, l.rdb, []string{countKey, lockKey},
		policy.MaxAttempts,
		policy.Window.Milliseconds(),
		policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// CheckHealth pings Redis.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// NoopRateLimiter allows everything. Used when REDIS_URL is not set.
type NoopRateLimiter struct{}

// Allow always returns nil.
func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }

// CheckHealth returns ErrCacheDisabled.
func (NoopRateLimiter) CheckHealth(context.Context) error { return ErrCacheDisabled }
