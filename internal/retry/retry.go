package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retry budget for one operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint64
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the growing delay between attempts.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// DefaultPolicy returns the retry budget used for session file reads.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Error is the failure result of an exhausted or permanently failed
// operation. It carries the classification and how many attempts were made.
type Error struct {
	Err      error
	Kind     Kind
	Attempts int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newBackOff builds the exponential schedule for a policy. Randomization is
// disabled so inter-attempt delays are non-decreasing up to MaxDelay.
func newBackOff(ctx context.Context, p Policy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if p.MaxAttempts > 0 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// Do runs op under the policy. A failure is retried only while its
// classification is retryable; permanent kinds fail on the spot. The
// returned error, if any, is always an *Error.
func Do(ctx context.Context, p Policy, op func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoValue runs op under the policy and returns its value on success.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	attempts := 0
	var lastKind Kind

	wrapped := func() (T, error) {
		attempts++
		v, err := op()
		if err == nil {
			return v, nil
		}
		lastKind = Classify(err)
		if !lastKind.Retryable() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.RetryWithData(wrapped, newBackOff(ctx, p))
	if err != nil {
		return v, &Error{Err: err, Kind: lastKind, Attempts: attempts}
	}
	return v, nil
}
