// Package retry runs an operation until it succeeds, a permanent error is returned,
// the attempt budget is spent, or the context is done.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Operation is a function that can be retried.
type Operation func(ctx context.Context) error

type config struct {
	maxRetries int
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	retryIf    func(error) bool
	onRetry    func(n int, err error)
}

// Option configures retry behavior.
type Option func(*config)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithDelay sets the delay between attempts.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay caps the delay once backoff is applied.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithExponentialBackoff multiplies the delay by multiplier after each failed attempt.
func WithExponentialBackoff(initialDelay time.Duration, multiplier float64) Option {
	return func(c *config) {
		c.delay = initialDelay
		c.multiplier = multiplier
	}
}

// WithJitter randomises each delay by +/- factor (0.0 to 1.0).
func WithJitter(factor float64) Option {
	return func(c *config) {
		c.jitter = factor
	}
}

// WithRetryIf decides whether an error is worth another attempt.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		c.retryIf = fn
	}
}

// WithOnRetry is called before each retry with the attempt number and the last error.
func WithOnRetry(fn func(n int, err error)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

func newDefaultConfig() *config {
	return &config{
		maxRetries: 3,
		delay:      100 * time.Millisecond,
		multiplier: 1.0,
		retryIf:    DefaultRetryIf,
		onRetry:    func(int, error) {},
	}
}

// Do executes operation with retry logic.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	cfg := newDefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var err error

	delay := cfg.delay

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}

			return ctxErr
		}

		err = operation(ctx)
		if err == nil {
			return nil
		}

		if !cfg.retryIf(err) {
			return err
		}

		if attempt == cfg.maxRetries {
			return fmt.Errorf("operation failed after %d attempts: %w", cfg.maxRetries+1, err)
		}

		cfg.onRetry(attempt+1, err)

		timer := time.NewTimer(jittered(delay, cfg.jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}

		if cfg.multiplier > 1.0 {
			delay = time.Duration(float64(delay) * cfg.multiplier)
			if cfg.maxDelay > 0 && delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}
		}
	}

	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T

	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)

		return opErr
	}, opts...)

	return result, err
}

func jittered(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}

	// #nosec G404 - jitter timing, not security sensitive
	out := time.Duration(float64(d) + (rand.Float64()*2-1)*float64(d)*factor)
	if out < 0 {
		return 0
	}

	return out
}

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (e Permanent) Error() string {
	return e.Err.Error()
}

func (e Permanent) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err was marked with MarkPermanent.
func IsPermanent(err error) bool {
	var permanent Permanent
	return errors.As(err, &permanent)
}

// MarkPermanent marks err as non-retryable. A nil err stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return Permanent{Err: err}
}

// DefaultRetryIf retries everything except permanent errors and context errors.
func DefaultRetryIf(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return !IsPermanent(err)
}
