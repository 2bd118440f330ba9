package sdk

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPredicate decides whether an error is worth retrying for the given
// attempt. The attempt parameter is the attempt that just failed, starting
// at 1.
type RetryPredicate func(err error, attempt int) bool

// RetryUnlessCancelled retries every error except context cancellation and
// deadline expiry. This is the default predicate.
func RetryUnlessCancelled(err error, attempt int) bool {
	return !isCancellation(err)
}

// RetryNetworkOnly restricts retries to network-category errors (transport
// failures, timeouts, 5xx responses).
func RetryNetworkOnly(err error, attempt int) bool {
	return IsRetryable(err)
}

// BackoffConfig describes the exponential backoff with jitter used between
// retry attempts:
//
//	base  = InitialInterval * (Multiplier ^ (attempt-1))
//	delay = clamp(min(base, MaxInterval) ± base*Jitter, 0, MaxInterval)
//
// Example:
//
//	config := sdk.DefaultConfig().WithRetry(sdk.BackoffConfig{
//	    InitialInterval: 200 * time.Millisecond,
//	    MaxInterval:     10 * time.Second,
//	    Multiplier:      2.0,
//	    Jitter:          0.3,
//	    MaxAttempts:     5,
//	})
type BackoffConfig struct {
	// InitialInterval is the delay before the first retry.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the computed delay.
	// Default: 5s
	MaxInterval time.Duration

	// Multiplier is the exponential growth factor.
	// Default: 2.0
	Multiplier float64

	// Jitter is the randomization factor (0.0 to 1.0).
	// 0.3 means ±30% of the computed delay.
	// Default: 0.3
	Jitter float64

	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int
}

// DefaultBackoffConfig returns the backoff configuration used when none is
// supplied: 3 attempts, 100ms initial, 5s cap, doubling, ±30% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.3,
		MaxAttempts:     3,
	}
}

// NextInterval computes the backoff delay before the retry following the
// given failed attempt (attempt starts at 1). The result is always within
// [0, MaxInterval].
func (c BackoffConfig) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	interval := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt-1))
	if interval > float64(c.MaxInterval) {
		interval = float64(c.MaxInterval)
	}

	if c.Jitter > 0 {
		jitterRange := interval * c.Jitter
		interval += jitterRange * (2*rand.Float64() - 1)
	}

	if interval < 0 {
		interval = 0
	}
	if interval > float64(c.MaxInterval) {
		interval = float64(c.MaxInterval)
	}

	return time.Duration(interval)
}

// retryExecutor runs an operation with backoff between attempts. Attempts
// are strictly sequential; there is never more than one in flight for the
// same call.
type retryExecutor struct {
	config   BackoffConfig
	observer Observer
}

// newRetryExecutor creates a retry executor, backfilling defaults.
func newRetryExecutor(config BackoffConfig, observer Observer) *retryExecutor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 5 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}
	if observer == nil {
		observer = &NoopObserver{}
	}
	return &retryExecutor{config: config, observer: observer}
}

// Execute runs fn up to MaxAttempts times, sleeping the computed backoff
// between attempts. shouldRetry defaults to RetryUnlessCancelled. When all
// attempts are exhausted the last error is returned wrapped so that
// errors.Is(err, ErrMaxAttemptsExceeded) holds.
func (re *retryExecutor) Execute(ctx context.Context, operation string, fn func() error, shouldRetry RetryPredicate) error {
	if shouldRetry == nil {
		shouldRetry = RetryUnlessCancelled
	}

	var lastErr error
	for attempt := 1; attempt <= re.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err, attempt) {
			return err
		}
		if attempt == re.config.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return WrapError(ctx.Err(), ErrorTypeTimeout, "context done during retry").WithOperation(operation)
		}

		delay := re.config.NextInterval(attempt)
		re.observer.OnRetryAttempt(operation, attempt, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return WrapError(ctx.Err(), ErrorTypeTimeout, "context done during retry wait").WithOperation(operation)
		case <-timer.C:
		}
	}

	wrapped := NewError(ErrorTypeMaxAttempts, "all retry attempts failed", lastErr)
	return wrapped.WithOperation(operation)
}
