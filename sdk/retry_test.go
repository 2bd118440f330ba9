package sdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		MaxAttempts:     attempts,
	}
}

func TestRetryExecutor(t *testing.T) {
	t.Run("returns immediately on success", func(t *testing.T) {
		re := newRetryExecutor(fastBackoff(3), nil)
		calls := 0
		err := re.Execute(context.Background(), "op", func() error {
			calls++
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		re := newRetryExecutor(fastBackoff(3), nil)
		calls := 0
		err := re.Execute(context.Background(), "op", func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhaustion wraps as max attempts", func(t *testing.T) {
		re := newRetryExecutor(fastBackoff(3), nil)
		calls := 0
		cause := errors.New("persistent")
		err := re.Execute(context.Background(), "op", func() error {
			calls++
			return cause
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.Is(err, ErrMaxAttemptsExceeded))
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("predicate stops retries", func(t *testing.T) {
		re := newRetryExecutor(fastBackoff(5), nil)
		calls := 0
		bad := NewError(ErrorTypeValidation, "bad input", nil)
		err := re.Execute(context.Background(), "op", func() error {
			calls++
			return bad
		}, RetryNetworkOnly)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.False(t, errors.Is(err, ErrMaxAttemptsExceeded))
	})

	t.Run("cancellation is not retried by default", func(t *testing.T) {
		re := newRetryExecutor(fastBackoff(5), nil)
		calls := 0
		err := re.Execute(context.Background(), "op", func() error {
			calls++
			return context.Canceled
		}, nil)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		re := newRetryExecutor(BackoffConfig{
			InitialInterval: time.Minute,
			MaxInterval:     time.Minute,
			Multiplier:      2.0,
			MaxAttempts:     3,
		}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		err := re.Execute(ctx, "op", func() error {
			calls++
			return errors.New("transient")
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("observer sees each retry", func(t *testing.T) {
		metrics := NewMetricsCollector()
		re := newRetryExecutor(fastBackoff(3), metrics)
		re.Execute(context.Background(), "op", func() error {
			return errors.New("transient")
		}, nil)
		assert.Equal(t, int64(2), metrics.Snapshot().Retries)
	})
}

func TestBackoffNextInterval(t *testing.T) {
	t.Run("grows exponentially without jitter", func(t *testing.T) {
		c := BackoffConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
		}
		assert.Equal(t, 100*time.Millisecond, c.NextInterval(1))
		assert.Equal(t, 200*time.Millisecond, c.NextInterval(2))
		assert.Equal(t, 400*time.Millisecond, c.NextInterval(3))
	})

	t.Run("caps at max interval", func(t *testing.T) {
		c := BackoffConfig{
			InitialInterval: time.Second,
			MaxInterval:     2 * time.Second,
			Multiplier:      10.0,
		}
		assert.Equal(t, 2*time.Second, c.NextInterval(5))
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		c := DefaultBackoffConfig()
		for attempt := 1; attempt <= 10; attempt++ {
			for i := 0; i < 100; i++ {
				d := c.NextInterval(attempt)
				assert.GreaterOrEqual(t, d, time.Duration(0))
				assert.LessOrEqual(t, d, c.MaxInterval)
			}
		}
	})

	t.Run("non-positive attempt yields zero", func(t *testing.T) {
		c := DefaultBackoffConfig()
		assert.Equal(t, time.Duration(0), c.NextInterval(0))
	})
}
