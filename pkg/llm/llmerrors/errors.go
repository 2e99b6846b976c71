// Package llmerrors provides structured error classification for generation
// engine calls. Retryability is decided by error type, not by matching
// message text at call sites.
package llmerrors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes generation engine failures for retry decisions.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeTransient represents connection errors, timeouts, and
	// 5xx-class service unavailability.
	ErrorTypeTransient ErrorType = iota
	// ErrorTypeRateLimit represents rate limiting and quota errors (429).
	ErrorTypeRateLimit

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication failures (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or rejected requests.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors. Unclassified
	// failures are treated as permanent: a retry only makes sense when the
	// failure is known to be transient.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified generation engine error.
type Error struct {
	Err        error  // Wrapped underlying error
	Message    string // Human-readable error message
	Type       ErrorType
	StatusCode int // HTTP status code if applicable
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("engine error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("engine error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("engine error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error type should be retried.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTransient, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// Is checks if an error is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if the
// error carries no classification.
func TypeOf(err error) ErrorType {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether an arbitrary error is classified as retryable.
// Unclassified errors are not.
func IsRetryable(err error) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.IsRetryable()
	}
	return false
}

// New creates a new classified error.
func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewWithStatus creates a classified error carrying an HTTP status.
func NewWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewWithCause creates a classified error wrapping another error.
func NewWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}
