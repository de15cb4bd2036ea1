// Package retry applies a bounded retry-with-backoff policy at per-item
// boundaries (fetch, embed, store write). Waiting goes through a Clock so
// tests never sleep on the wall clock.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"
)

// Defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultMultiplier  = 2.0
)

// Clock is the subset of clock.Clock the retry loop needs
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock returns the wall clock
func SystemClock() Clock {
	return clock.New()
}

// Policy configures exponential backoff retry behavior
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // upper bound for any delay
	Multiplier  float64       // growth factor between delays
}

// DefaultPolicy returns sensible defaults for upstream API calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("delays must be non-negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("base delay %s exceeds max delay %s", p.BaseDelay, p.MaxDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %.2f", p.Multiplier)
	}
	return nil
}

// Delays returns the wait before each retry (len = MaxAttempts-1)
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.newBackOff()
	delays := make([]time.Duration, p.MaxAttempts-1)
	for i := range delays {
		delays[i] = b.NextBackOff()
	}
	return delays
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = p.BaseDelay
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying regardless of the classifier
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Attempts reports how many attempts produced err, or 1 when unknown
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}

// Do calls fn until it succeeds, returns an error shouldRetry rejects, the
// policy's attempts are used up, or ctx is done. A nil shouldRetry retries
// every error. Exhaustion is reported as *ExhaustedError wrapping the last
// error; non-retryable errors are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, clk Clock, shouldRetry func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if clk == nil {
		clk = SystemClock()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := p.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}
		// Don't retry on context cancellation
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		if err := Sleep(ctx, clk, b.NextBackOff()); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Sleep waits for d on clk or until ctx is done
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if clk == nil {
		clk = SystemClock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
