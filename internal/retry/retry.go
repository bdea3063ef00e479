// Package retry provides a small bounded-retry combinator for calls against
// external services with documented retry guidance, such as the Azure
// instance metadata endpoint.
package retry

import (
	"context"
	"time"
)

// Policy describes how many times an operation may be attempted and how long
// to wait between attempts. A zero Policy performs exactly one attempt.
type Policy struct {
	// Attempts is the total number of attempts, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Delay is the wait before the second attempt.
	Delay time.Duration

	// Multiplier scales the delay after each failed attempt. Values below 1
	// are treated as 1 (fixed delay).
	Multiplier float64
}

// Do invokes fn until it succeeds, the policy is exhausted, or ctx is done.
// fn reports whether its error is retryable; a non-retryable error is
// returned immediately. The last error is returned when attempts run out.
func Do(ctx context.Context, p Policy, fn func() (retryable bool, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := p.Delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * multiplier)
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
