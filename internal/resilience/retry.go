// Package resilience provides the bounded-retry-with-backoff primitive shared
// by the recognition restart loop and outbound summarization calls.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default retry parameters.
const (
	defaultMaxAttempts = 5
	defaultBackoff     = 500 * time.Millisecond
	defaultMaxBackoff  = 8 * time.Second
)

// ErrRetriesExhausted is returned by [Do] when every attempt failed. The last
// attempt's error is joined onto it and can be inspected with [errors.Is] /
// [errors.As].
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// Permanent wraps an error to tell [Do] that further attempts are pointless.
// Do returns the wrapped error immediately without consuming the remaining
// attempt budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Policy describes a bounded retry schedule: a fixed initial delay that
// doubles after each failed attempt up to a cap, with a hard attempt budget.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Defaults to 5 if zero.
	MaxAttempts int

	// Backoff is the delay before the second attempt. Doubles each attempt
	// up to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the per-attempt delay. Defaults to 8s
	// if zero.
	MaxBackoff time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// Do runs fn until it succeeds, the attempt budget is exhausted, fn returns a
// [Permanent] error, or ctx is cancelled. The first attempt runs immediately;
// each subsequent attempt waits for the current backoff delay.
//
// On exhaustion the returned error wraps both [ErrRetriesExhausted] and the
// last attempt's error.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	backoff := policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}
