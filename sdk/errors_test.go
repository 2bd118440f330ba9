package sdk

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSentinels(t *testing.T) {
	t.Run("timeout error matches ErrTimeout", func(t *testing.T) {
		err := NewError(ErrorTypeTimeout, "request timed out", nil)
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	})

	t.Run("circuit open error matches ErrCircuitOpen", func(t *testing.T) {
		err := NewError(ErrorTypeCircuitOpen, "fast fail", ErrCircuitOpen)
		assert.True(t, errors.Is(err, ErrCircuitOpen))
	})

	t.Run("validation error matches ErrValidation", func(t *testing.T) {
		err := NewError(ErrorTypeValidation, "bad input", ErrValidation)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("max attempts error matches ErrMaxAttemptsExceeded", func(t *testing.T) {
		err := NewError(ErrorTypeMaxAttempts, "exhausted", nil)
		assert.True(t, errors.Is(err, ErrMaxAttemptsExceeded))
	})
}

func TestErrorEnrichment(t *testing.T) {
	t.Run("operation appears in message", func(t *testing.T) {
		err := NewError(ErrorTypeNetwork, "connection refused", nil).WithOperation("settings_fetch")
		assert.Contains(t, err.Error(), "settings_fetch")
		assert.Contains(t, err.Error(), "network")
	})

	t.Run("unwrap returns the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewError(ErrorTypeInternal, "wrapper", cause)
		assert.Equal(t, cause, errors.Unwrap(err))
	})

	t.Run("errors.As finds the enriched error", func(t *testing.T) {
		var enriched *Error
		err := NewError(ErrorTypeNetwork, "down", nil)
		require.True(t, errors.As(err, &enriched))
		assert.Equal(t, ErrorTypeNetwork, enriched.Type)
		assert.True(t, enriched.IsRetryable())
	})

	t.Run("wrap keeps an existing enriched error", func(t *testing.T) {
		inner := NewError(ErrorTypeTimeout, "slow", nil)
		wrapped := WrapError(inner, ErrorTypeInternal, "new message")
		assert.Equal(t, ErrorTypeTimeout, wrapped.Type)
		assert.Equal(t, "new message", wrapped.Message)
	})
}

func TestHTTPErrorRetryable(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"500 retryable", http.StatusInternalServerError, true},
		{"503 retryable", http.StatusServiceUnavailable, true},
		{"429 retryable", http.StatusTooManyRequests, true},
		{"408 retryable", http.StatusRequestTimeout, true},
		{"404 not retryable", http.StatusNotFound, false},
		{"400 not retryable", http.StatusBadRequest, false},
		{"401 not retryable", http.StatusUnauthorized, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := &HTTPError{StatusCode: tc.status, URL: "http://example.com"}
			assert.Equal(t, tc.retryable, err.IsRetryable())
			assert.Equal(t, tc.retryable, IsRetryable(err.ToError()))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Run("cancellation is never retryable", func(t *testing.T) {
		assert.False(t, IsRetryable(context.Canceled))
		assert.False(t, IsRetryable(context.DeadlineExceeded))
	})

	t.Run("network errors are retryable", func(t *testing.T) {
		netErr := &NetworkError{Op: "GET /settings", Err: errors.New("refused")}
		assert.True(t, IsRetryable(netErr.ToError()))
	})

	t.Run("validation errors are not retryable", func(t *testing.T) {
		assert.False(t, IsRetryable(NewError(ErrorTypeValidation, "bad", nil)))
	})

	t.Run("nil is not retryable", func(t *testing.T) {
		assert.False(t, IsRetryable(nil))
	})
}
