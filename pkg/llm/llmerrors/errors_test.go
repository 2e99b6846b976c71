package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewWithCause(ErrorTypeTransient, cause, "connection dropped")

	assert.Equal(t, "engine error (transient): connection dropped", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTransient, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeAuth, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeBadPrompt, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeUnknown, "x")))

	// Unclassified plain errors are permanent.
	assert.False(t, IsRetryable(errors.New("something odd")))
	assert.False(t, IsRetryable(nil))
}

func TestClassifyPassesThroughStructured(t *testing.T) {
	orig := New(ErrorTypeRateLimit, "limited")
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, ErrorTypeTransient, Classify(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeTransient, Classify(context.Canceled).Type)
}

func TestClassifyByMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorType
	}{
		{"dial tcp: connection refused", ErrorTypeTransient},
		{"request timed out", ErrorTypeTransient},
		{"unexpected EOF", ErrorTypeTransient},
		{"service unavailable", ErrorTypeTransient},
		{"rate limit exceeded for requests", ErrorTypeRateLimit},
		{"you have exceeded your quota", ErrorTypeRateLimit},
		{"unauthorized: bad credentials", ErrorTypeAuth},
		{"invalid api key provided", ErrorTypeAuth},
		{"invalid request body", ErrorTypeBadPrompt},
		{"prompt exceeds context length", ErrorTypeBadPrompt},
		{"flux capacitor misaligned", ErrorTypeUnknown},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		require.NotNil(t, got)
		assert.Equal(t, tc.want, got.Type, "message %q", tc.msg)
	}
}

func TestClassifyStatusFromMessage(t *testing.T) {
	err := Classify(errors.New(`POST "https://api": status code: 429, message: slow down`))
	assert.Equal(t, ErrorTypeRateLimit, err.Type)
	assert.Equal(t, 429, err.StatusCode)

	err = Classify(errors.New("request failed with status: 503"))
	assert.Equal(t, ErrorTypeTransient, err.Type)
	assert.Equal(t, 503, err.StatusCode)

	err = Classify(errors.New("got HTTP 401 from upstream"))
	assert.Equal(t, ErrorTypeAuth, err.Type)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, ClassifyStatus(403, nil).Type)
	assert.Equal(t, ErrorTypeRateLimit, ClassifyStatus(429, nil).Type)
	assert.Equal(t, ErrorTypeBadPrompt, ClassifyStatus(400, nil).Type)
	assert.Equal(t, ErrorTypeTransient, ClassifyStatus(502, nil).Type)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, TypeOf(New(ErrorTypeAuth, "x")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.True(t, Is(New(ErrorTypeAuth, "x"), ErrorTypeAuth))
	assert.False(t, Is(New(ErrorTypeAuth, "x"), ErrorTypeTransient))
}
