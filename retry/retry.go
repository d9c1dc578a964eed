// Package retry repeats an operation that may fail transiently, waiting an
// exponentially growing delay between attempts.
//
//	err := retry.Do(ctx, fetch,
//	    retry.WithAttempts(3),
//	    retry.WithBackoff(retry.ExpBackoff{Base: 2 * time.Second, Max: 8 * time.Second, Factor: 2}),
//	)
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	defaultAttempts      = 3
	defaultBaseDelay     = 2 * time.Second
	defaultMaxDelay      = 8 * time.Second
	defaultBackoffFactor = 2.0
)

// Option configures Do.
type Option func(*options)

type options struct {
	attempts uint
	backoff  Backoff
	onRetry  func(attempt uint, err error)
}

// WithAttempts sets the total number of attempts, the first call included.
// Zero is treated as one.
func WithAttempts(n uint) Option {
	return func(o *options) {
		o.attempts = max(n, 1)
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// OnRetry registers a hook called before every retry with the failed attempt's
// index and error.
func OnRetry(fn func(attempt uint, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls operation until it succeeds, returns an error wrapped with Abort, the
// attempts run out, or ctx is done. It returns the last error seen.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	o := &options{
		attempts: defaultAttempts,
		backoff: ExpBackoff{
			Base:   defaultBaseDelay,
			Max:    defaultMaxDelay,
			Factor: defaultBackoffFactor,
		},
	}

	for _, opt := range opts {
		opt(o)
	}

	var err error

	for attempt := uint(0); attempt < o.attempts; attempt++ {
		if attempt > 0 {
			if o.onRetry != nil {
				o.onRetry(attempt-1, err)
			}

			timer := time.NewTimer(o.backoff.Delay(attempt - 1))

			select {
			case <-ctx.Done():
				timer.Stop()

				return errors.Join(ctx.Err(), err)
			case <-timer.C:
			}
		}

		err = operation(withAttempt(ctx, attempt))
		if err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}

		if ctx.Err() != nil {
			return err
		}
	}

	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T

	err := Do(ctx, func(ctx context.Context) error {
		var err error

		out, err = operation(ctx)

		return err
	}, opts...)
	if err != nil {
		var zero T

		return zero, err
	}

	return out, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Abort marks err as not worth retrying. Do returns the unwrapped error immediately.
func Abort(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

type attemptKey struct{}

func withAttempt(ctx context.Context, attempt uint) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// Attempt returns the zero-based attempt index of the call ctx was handed to.
func Attempt(ctx context.Context) uint {
	attempt, _ := ctx.Value(attemptKey{}).(uint)

	return attempt
}
