// Package retry runs fallible operations a bounded number of times with a fixed delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultRetries  = 3
	DefaultInterval = time.Second
)

// ErrRetryFailed is the default final error returned once every attempt has failed.
var ErrRetryFailed = errors.New("retry failed")

type options struct {
	retries  int
	interval time.Duration
	finalErr error
	finally  func()
	notify   func(err error, next time.Duration)
}

// Option configures WithDelay.
type Option func(*options)

// WithRetries sets how many times the operation is retried after the first attempt.
// Negative values are treated as zero.
func WithRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.retries = n
	}
}

// WithInterval sets the fixed delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.interval = d
	}
}

// WithFinalErr sets the error reported when every attempt failed.
func WithFinalErr(err error) Option {
	return func(o *options) {
		if err != nil {
			o.finalErr = err
		}
	}
}

// WithFinally registers a callback run exactly once when WithDelay gives up.
func WithFinally(fn func()) Option {
	return func(o *options) {
		o.finally = fn
	}
}

// WithNotify registers a callback invoked after each failed attempt that will be retried.
func WithNotify(fn func(err error, next time.Duration)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Permanent marks err as not worth retrying. WithDelay stops immediately and returns err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// WithDelay invokes fn until it succeeds, at most retries+1 times, sleeping the
// configured interval between attempts. When every attempt fails the returned
// error matches the final error with errors.Is and also wraps the last failure.
func WithDelay[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := &options{
		retries:  DefaultRetries,
		interval: DefaultInterval,
		finalErr: ErrRetryFailed,
	}
	for _, opt := range opts {
		opt(o)
	}

	var permanent bool
	operation := func() (T, error) {
		res, err := fn(ctx)
		var perm *backoff.PermanentError
		if err != nil && errors.As(err, &perm) {
			permanent = true
		}
		return res, err
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(o.interval)),
		backoff.WithMaxTries(uint(o.retries) + 1),
		backoff.WithMaxElapsedTime(0),
	}
	if o.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(o.notify))
	}

	res, err := backoff.Retry(ctx, operation, retryOpts...)
	if err == nil {
		return res, nil
	}

	if o.finally != nil {
		o.finally()
	}

	var zero T
	if permanent {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Unwrap()
		}
		return zero, err
	}
	if cause := context.Cause(ctx); cause != nil && errors.Is(err, cause) {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", o.finalErr, err)
}
