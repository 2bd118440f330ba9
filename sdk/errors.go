package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the SDK. These can be used with errors.Is()
// to check for specific error conditions.
//
// Example:
//
//	err := client.TrackEvent("purchase", nil)
//	if errors.Is(err, sdk.ErrValidation) {
//	    // The event was rejected before it was queued
//	}
var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout is returned when a request times out
	ErrTimeout = errors.New("request timeout")

	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxAttemptsExceeded is returned when all retry attempts have been used
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

	// ErrValidation is returned when an item fails validation before enqueue
	ErrValidation = errors.New("validation failed")

	// ErrQueueFull is returned when an item cannot be queued even after a
	// forced flush and eviction
	ErrQueueFull = errors.New("delivery queue is full")

	// ErrClientClosed is returned when an operation is attempted on a closed client
	ErrClientClosed = errors.New("client is closed")
)

// ErrorType categorizes errors for handling and retry decisions.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    switch sdkErr.Type {
//	    case sdk.ErrorTypeNetwork:
//	        // Transport failure, will be retried automatically
//	    case sdk.ErrorTypeValidation:
//	        // Bad input, never retried
//	    case sdk.ErrorTypeCircuitOpen:
//	        // Remote is struggling, fail fast
//	    }
//	}
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown or unclassified error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork represents transport failures (connection refused, DNS, non-2xx)
	ErrorTypeNetwork
	// ErrorTypeTimeout represents timeout errors (request timeout, context deadline)
	ErrorTypeTimeout
	// ErrorTypeValidation represents malformed items or config entries
	ErrorTypeValidation
	// ErrorTypeInternal represents unexpected failures inside the engine
	ErrorTypeInternal
	// ErrorTypeCircuitOpen represents circuit breaker fast-fail
	ErrorTypeCircuitOpen
	// ErrorTypeMaxAttempts represents retry exhaustion
	ErrorTypeMaxAttempts
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeCircuitOpen:
		return "circuit_open"
	case ErrorTypeMaxAttempts:
		return "max_attempts"
	default:
		return "unknown"
	}
}

// Error is the enriched error type used throughout the SDK. It carries a
// category for retry decisions, a human-readable message, and the wrapped
// cause. It supports errors.Is() and errors.As().
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    fmt.Printf("type=%s retryable=%v\n", sdkErr.Type, sdkErr.IsRetryable())
//	}
type Error struct {
	// Type categorizes the error for handling decisions
	Type ErrorType `json:"type"`
	// Message is a human-readable error description
	Message string `json:"message"`
	// Operation names the SDK operation that failed (e.g. "settings_check")
	Operation string `json:"operation,omitempty"`
	// Timestamp is when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// Retryable indicates if the operation can be retried
	Retryable bool `json:"retryable"`
	// wrapped is the underlying error, if any
	wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s error in %s: %s", e.Type, e.Operation, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is implements errors.Is for the sentinel errors matching each type
func (e *Error) Is(target error) bool {
	switch e.Type {
	case ErrorTypeTimeout:
		return errors.Is(target, ErrTimeout)
	case ErrorTypeCircuitOpen:
		return errors.Is(target, ErrCircuitOpen)
	case ErrorTypeMaxAttempts:
		return errors.Is(target, ErrMaxAttemptsExceeded)
	case ErrorTypeValidation:
		return errors.Is(target, ErrValidation)
	}
	return false
}

// IsRetryable returns true if the error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// WithOperation records the operation name on the error
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// NewError creates a new enriched error
func NewError(errType ErrorType, message string, wrapped error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableType(errType),
		wrapped:   wrapped,
	}
}

// isRetryableType determines if an error type is retryable
func isRetryableType(errType ErrorType) bool {
	switch errType {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// WrapError wraps an error with type information. If the error is already
// an enriched Error, only the message is updated.
func WrapError(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var enriched *Error
	if errors.As(err, &enriched) {
		enriched.Message = message
		return enriched
	}

	return NewError(errType, message, err)
}

// HTTPError represents a non-2xx response from the remote authority.
type HTTPError struct {
	// StatusCode is the HTTP status code from the response
	StatusCode int
	// URL is the request URL
	URL string
	// Body is the raw response body, truncated for logging
	Body string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error (status %d): %s", e.StatusCode, e.URL)
}

// IsRetryable returns true for server errors, rate limiting and timeouts
func (e *HTTPError) IsRetryable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ToError converts HTTPError to the enriched Error type
func (e *HTTPError) ToError() *Error {
	errType := ErrorTypeNetwork
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout {
		errType = ErrorTypeTimeout
	}
	err := NewError(errType, e.Error(), e)
	err.Retryable = e.IsRetryable()
	return err
}

// NetworkError represents a transport-level failure such as connection
// refused or DNS resolution failure.
type NetworkError struct {
	// Op is the operation that failed (e.g. "GET /settings")
	Op string
	// Err is the underlying network error
	Err error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ToError converts NetworkError to the enriched Error type
func (e *NetworkError) ToError() *Error {
	return NewError(ErrorTypeNetwork, e.Error(), e)
}

// IsRetryable reports whether an error may be retried. Network, timeout
// and 5xx errors are retryable; validation errors, circuit-open fast-fails
// and cancellations are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if isCancellation(err) {
		return false
	}

	var enriched *Error
	if errors.As(err, &enriched) {
		return enriched.IsRetryable()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, ErrTimeout)
}

// isCancellation reports whether the error stems from context cancellation
// or deadline expiry.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
