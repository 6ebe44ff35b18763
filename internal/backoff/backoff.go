// Package backoff provides bounded retry and polling helpers used at the
// collaborator boundaries (Slack downloads, model API calls, media processing).
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrMaxAttemptsExhausted is returned when every retry attempt failed.
	ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

	// ErrPollExhausted is returned when a poll never reached a terminal state.
	ErrPollExhausted = errors.New("poll attempts exhausted")
)

// Policy defines exponential backoff with jitter.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the randomization factor in [0, 1].
	Jitter float64
}

// DefaultPolicy returns 200ms initial, 10s max, factor 2, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait before the given attempt (1-indexed) retries.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(total)
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

// Retry runs fn up to maxAttempts times. Errors for which retryable returns
// false are returned immediately; a nil retryable retries every error. When all
// attempts fail the last error is joined with ErrMaxAttemptsExhausted.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}
	if maxAttempts == 1 {
		return zero, lastErr
	}
	return zero, errors.Join(ErrMaxAttemptsExhausted, lastErr)
}

// Poll calls check every interval until it reports done, returns an error, or
// maxAttempts checks have run. The first check happens after one interval.
// Exhaustion returns the last value with ErrPollExhausted.
func Poll[T any](ctx context.Context, interval time.Duration, maxAttempts int, check func(attempt int) (T, bool, error)) (T, error) {
	var last T
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := Sleep(ctx, interval); err != nil {
			return last, err
		}
		value, done, err := check(attempt)
		if err != nil {
			return value, err
		}
		last = value
		if done {
			return value, nil
		}
	}
	return last, ErrPollExhausted
}
