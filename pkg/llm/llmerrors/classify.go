package llmerrors

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Classify maps a raw provider failure to a structured Error. Provider
// clients call SDK-typed checks first and fall back to this message
// inspection; downstream retry decisions only ever look at the resulting
// Type, never at message text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewWithCause(ErrorTypeTransient, err, "request canceled")
	}

	if code := statusCodeFromMessage(err.Error()); code != 0 {
		return ClassifyStatus(code, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "reset"):
		return NewWithCause(ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "too many requests"):
		return NewWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "api key"):
		return NewWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "too large"),
		strings.Contains(msg, "context length"):
		return NewWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return NewWithCause(ErrorTypeUnknown, err, "unclassified error")
}

// ClassifyStatus maps an HTTP status code to a structured Error. A zero
// or unrecognized status falls through to Classify.
func ClassifyStatus(statusCode int, err error) *Error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return NewWithStatus(ErrorTypeAuth, statusCode, "authentication failed")
	case statusCode == 429:
		return NewWithStatus(ErrorTypeRateLimit, statusCode, "rate limit exceeded")
	case statusCode == 400 || statusCode == 413 || statusCode == 422:
		return NewWithStatus(ErrorTypeBadPrompt, statusCode, "request rejected")
	case statusCode >= 500:
		return NewWithStatus(ErrorTypeTransient, statusCode, "server error")
	default:
		return Classify(err)
	}
}

// statusCodeFromMessage digs an HTTP status code out of an error string.
// SDK errors usually embed the status in their message. Only codes that
// ClassifyStatus handles are reported.
func statusCodeFromMessage(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		rest := lower[idx+len(pattern):]
		for _, code := range []int{400, 401, 403, 413, 422, 429, 500, 502, 503, 529} {
			if strings.HasPrefix(rest, strconv.Itoa(code)) {
				return code
			}
		}
	}
	return 0
}
