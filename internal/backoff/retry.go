package backoff

import (
	"context"
	"time"
)

// Retry controls a retry loop.
type Retry struct {
	Policy Policy

	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts
// are used up. The last error from fn is returned unchanged so callers can
// inspect it. If ctx ends while waiting, ctx.Err() is returned.
func (r Retry) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts || (r.Retryable != nil && !r.Retryable(err)) {
			return err
		}

		delay := r.Policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, delay)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}
