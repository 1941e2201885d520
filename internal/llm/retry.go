package llm

import (
	"context"
	"errors"
	"time"
)

// RateLimitEvent describes one rate-limited attempt that is about to be retried
type RateLimitEvent struct {
	Attempt      int
	Backoff      time.Duration
	ResetSeconds int
	HasReset     bool
}

// RetryPolicy resubmits rate-limited requests with exponential backoff.
// It only wraps request issuance; once a stream is returned it is never retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy allows 3 retries starting at one second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
	}
}

// Retry calls op until it succeeds, fails with something other than a 429,
// or the retry budget is spent. The last outcome is returned as-is.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), onRateLimit func(RateLimitEvent)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	backoff := p.InitialBackoff
	retries := p.MaxRetries

	for attempt := 1; ; attempt++ {
		res, err := op(ctx)
		if err == nil || retries <= 0 || !IsRateLimited(err) {
			return res, err
		}

		var apiErr *APIError
		errors.As(err, &apiErr)
		if onRateLimit != nil {
			onRateLimit(RateLimitEvent{
				Attempt:      attempt,
				Backoff:      backoff,
				ResetSeconds: apiErr.ResetSeconds,
				HasReset:     apiErr.HasReset,
			})
		}

		if sleepErr := sleep(ctx, backoff); sleepErr != nil {
			return res, err
		}
		backoff *= 2
		retries--
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
