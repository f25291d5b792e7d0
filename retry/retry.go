package retry

import (
	"context"
	"math/rand"
	"time"
)

// Options control the retry loop.
type Options struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	jitter     bool
	onRetry    func(attempt int, err error)
}

// Option configures Do.
type Option func(*Options)

// WithMaxRetries sets how many times a failed call is retried. The call is
// always attempted at least once; max retries of 3 means up to 4 attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.maxRetries = n }
}

// WithBaseWait sets the delay before the first retry. Subsequent delays
// double up to the max wait.
func WithBaseWait(d time.Duration) Option {
	return func(o *Options) { o.baseWait = d }
}

// WithMaxWait caps the backoff delay.
func WithMaxWait(d time.Duration) Option {
	return func(o *Options) { o.maxWait = d }
}

// WithJitter randomizes each delay over [0, delay) to avoid thundering
// herds against external services.
func WithJitter() Option {
	return func(o *Options) { o.jitter = true }
}

// WithOnRetry registers a callback invoked before each retry sleep.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *Options) { o.onRetry = fn }
}

// Do invokes fn, retrying recoverable failures with exponential backoff
// until it succeeds, the retry budget is exhausted, a non-recoverable error
// occurs, or the context is done. The last error is returned unwrapped.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	options := Options{
		maxRetries: 3,
		baseWait:   time.Second,
		maxWait:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	var lastErr error
	wait := options.baseWait
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRecoverable(lastErr) || attempt >= options.maxRetries {
			return lastErr
		}
		if options.onRetry != nil {
			options.onRetry(attempt+1, lastErr)
		}
		delay := wait
		if options.jitter && delay > 0 {
			delay = time.Duration(rand.Int63n(int64(delay)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		wait *= 2
		if options.maxWait > 0 && wait > options.maxWait {
			wait = options.maxWait
		}
	}
}
