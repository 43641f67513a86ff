package utils

import (
	"context"
	"time"
)

// RetryPolicy bounds a single external call: each attempt runs under Timeout, and a failed
// attempt is retried up to Retries more times after Backoff.
type RetryPolicy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Retry runs fn under p. Cancellation of the parent context stops retrying immediately and
// returns the context error.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := attemptWithTimeout(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt < p.Retries && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
	}
	return zero, lastErr
}

func attemptWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
