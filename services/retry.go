package services

import (
	"context"
	"time"
)

// RetryPolicy repeats a whole operation with linearly growing pauses:
// attempt n failing waits n*Step before attempt n+1.
type RetryPolicy struct {
	Attempts int
	Step     time.Duration
	// Retryable decides whether an error is worth another attempt; nil retries everything.
	Retryable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Step: 800 * time.Millisecond, Retryable: Retryable}
}

// Delay is the pause after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Step
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. onRetry, if set, is called before each pause. The last error is
// returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		wait := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
