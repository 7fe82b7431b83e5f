package dispatchers

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 10 * time.Millisecond
	defaultMaxDelay     = time.Second
	defaultJitterFactor = 0.3
	defaultConcurrency  = 4
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeDelay is returned when a retry delay is negative.
	ErrNegativeDelay = errors.New("retry delay must not be negative")

	// ErrInvalidConcurrency is returned when the worker pool size is not positive.
	ErrInvalidConcurrency = errors.New("concurrency must be positive")

	// ErrNilScheduler is returned when a dispatcher is built without a scheduler.
	ErrNilScheduler = errors.New("scheduler must not be nil")

	// ErrNilCommitHooks is returned when an after-commit dispatcher is built without commit hooks.
	ErrNilCommitHooks = errors.New("commit hooks must not be nil")
)

type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// backoff returns the delay before the given retry: baseDelay * 2^(attempt-1) plus jitter, capped at maxDelay.
// The doubling stops at maxDelay, so large attempts cannot overflow.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for range attempt - 1 {
		if delay > p.maxDelay/2 {
			return p.maxDelay
		}
		delay *= 2
	}

	if delay >= p.maxDelay {
		return p.maxDelay
	}

	jitter := time.Duration(rand.Float64() * float64(delay) * p.jitterFactor) //nolint:gosec //math/rand is sufficient for jitter
	if jitter >= p.maxDelay-delay {
		return p.maxDelay
	}

	return delay + jitter
}

// run calls fn until it succeeds, the attempts are exhausted or ctx is done. onRetry is called before each retry.
func (p retryPolicy) run(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}

			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}

	return lastErr
}
