package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Retry calls fn up to maxTries times until it returns a non-nil result and nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErr calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func RetryErr(maxTries int, fn func() error) error {
	_, err := Retry(maxTries, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryBackoff(ctx, Backoff{Attempts: maxTries}, fn)
}

func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Backoff configures RetryBackoff. A zero Initial disables waiting between
// attempts.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// Jitter is the fraction of each delay that is randomized, 0..1.
	Jitter float64
	// Timeout bounds every single attempt when > 0.
	Timeout time.Duration
}

// Delay returns the wait before retry number n (n >= 1) without jitter.
func (b Backoff) Delay(n int) time.Duration {
	if b.Initial <= 0 || n <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= mult
		if b.Max > 0 && time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. RetryBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// RetryBackoff calls fn until it succeeds, the attempt budget is exhausted,
// fn returns a Permanent error, or ctx is done. Waits grow exponentially
// between attempts.
func RetryBackoff[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, jitter(b.Delay(i), b.Jitter)); err != nil {
				return zero, err
			}
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := attempt(ctx, b.Timeout, fn)
		if err == nil {
			return result, nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	aCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(aCtx)
}

func jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	spread := float64(d) * frac
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
