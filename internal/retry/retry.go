// Package retry runs an operation under a bounded attempt policy with backoff.
// The policy knows nothing about the operation, so it can be tested without I/O.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures Do.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int

	// Backoff returns the wait after the given failed attempt (1-based).
	// If nil, there is no wait between attempts.
	Backoff func(attempt int) time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, every error except a Permanent one is retried.
	Retryable func(error) bool

	// OnRetry is an optional hook for logging and metrics.
	OnRetry func(attempt int, wait time.Duration, err error)

	// Sleep waits between attempts. Defaults to Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns a backoff of base * 2^attempt, so with base=1s the
// waits after attempts 1 and 2 are 2s and 4s.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt)
	}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. It returns the number of attempts made and the
// last error. Permanent wrappers are kept so callers can tell the cases apart.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempts, lastErr
			}
			return attempts, err
		}

		attempts = attempt
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if IsPermanent(err) || !retryable(err) {
			return attempts, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return attempts, lastErr
		}
	}

	return attempts, lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
