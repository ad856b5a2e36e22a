package utils

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds how often an idempotent host call is repeated.
type RetryPolicy struct {
	Attempts int           // Total tries, values below 1 mean a single try
	MinDelay time.Duration // First backoff step
	MaxDelay time.Duration // Backoff ceiling
}

// Retry calls fn until it succeeds, returns an error retryable rejects, the
// attempts are used up or ctx is done. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    policy.MinDelay,
		Max:    policy.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max < b.Min {
		b.Max = 10 * b.Min
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(b.Duration()):
		}
	}
	return err
}
