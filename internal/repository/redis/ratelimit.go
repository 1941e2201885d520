package redis

import (
	"context"
	"fmt"
	"time"
)

const rateLimitPrefix = "zyra:ratelimit:"

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetSeconds returns whole seconds until the window resets, rounded up
func (d Decision) ResetSeconds(now time.Time) int {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	secs := int(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	return secs
}

// RateLimiter is a fixed one-minute window counter per client key
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		now:               time.Now,
	}
}

func windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())
}

// Allow counts one request for key in the current window
func (r *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	windowStart := now.Truncate(time.Minute)
	fullKey := windowKey(key, windowStart)

	pipe := r.client.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	limit := r.requestsPerMinute + r.burst
	count := int(incrCmd.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(time.Minute),
	}, nil
}

// Reset clears the counter for key in the current window
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.rdb.Del(ctx, windowKey(key, r.now().Truncate(time.Minute))).Err()
}
