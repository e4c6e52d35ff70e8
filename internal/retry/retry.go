// Package retry provides the bounded retry-with-backoff policy shared by the
// graph builder's inference calls and the simulator's decision calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds how an operation is retried. The delay starts at BaseDelay
// and roughly doubles per attempt, capped at MaxDelay. A zero BaseDelay
// disables sleeping between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// permanentError wraps an error that must not be retried, such as a schema
// violation: retrying cannot fix a structurally wrong answer.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op up to MaxAttempts times, sleeping with exponential backoff
// between attempts. It stops early on success, on a permanent error, or when
// ctx is done. The returned error is the last one observed, unwrapped from
// any permanent marker.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
		delay = nextDelay(delay, p.MaxDelay)
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
