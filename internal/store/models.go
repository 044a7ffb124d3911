// models.go -- Shared types for the store package.
package store

import (
	"errors"
	"time"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheDisabled is returned by NoopRateLimiter.CheckHealth when Redis is not configured.
// Callers use errors.Is to distinguish "not configured" from a real infrastructure failure.
var ErrCacheDisabled = errors.New("cache disabled")

// RateLimit defines the policy for a rate-limited action.
// All durations must be positive; Redis treats a zero TTL as "never expire".
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // fixed window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is exceeded
}
