// Package retry provides bounded-attempt retry with exponential backoff for
// request/response calls to external dependencies.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"runsheet/pkg/logx"
	"runsheet/pkg/resilience/circuit"
)

// Classifier determines whether an error should be retried.
type Classifier func(error) bool

// DefaultClassifier retries every failure except context cancellation and
// circuit breaker rejections. Circuit errors are the breaker's recovery
// mechanism; retrying them would defeat the cooldown.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var circuitErr *circuit.Error
	return !errors.As(err, &circuitErr)
}

// Policy encapsulates retry configuration. Immutable once constructed.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Policy struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts"`         // Total attempts, including the first
	InitialDelay    time.Duration `json:"initial_delay" yaml:"initial_delay"`       // Delay before the first retry
	ExponentialBase float64       `json:"exponential_base" yaml:"exponential_base"` // Backoff multiplier
	MaxDelay        time.Duration `json:"max_delay" yaml:"max_delay"`               // Cap between retries; zero means uncapped
	Classifier      Classifier    `json:"-" yaml:"-"`
}

// DefaultPolicy yields delays of 1s, 2s, 4s across 3 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		ExponentialBase: 2.0,
		Classifier:      DefaultClassifier,
	}
}

// Delay computes the backoff before the retry following the given
// zero-indexed attempt: InitialDelay * ExponentialBase^attempt, capped at
// MaxDelay when set.
func (p Policy) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// shouldRetry applies the configured classifier, falling back to the default.
func (p Policy) shouldRetry(err error) bool {
	if p.Classifier != nil {
		return p.Classifier(err)
	}
	return DefaultClassifier(err)
}

// ExhaustedError wraps the last error after all attempts are consumed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempts: %v", e.Operation, e.Attempts, e.LastErr)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Executor runs operations under a retry policy.
type Executor struct {
	policy Policy
	logger *logx.Logger
}

// NewExecutor creates an executor with the given policy.
func NewExecutor(policy Policy) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		policy: policy,
		logger: logx.NewLogger("retry"),
	}
}

// Run invokes the operation until it succeeds, a non-retryable error occurs,
// or attempts are exhausted. The backoff sleep honors ctx cancellation so a
// suspended retry never outlives its request.
func (e *Executor) Run(ctx context.Context, operation string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !e.policy.shouldRetry(err) {
			return err
		}

		if attempt == e.policy.MaxAttempts-1 {
			break
		}

		delay := e.policy.Delay(attempt)
		e.logger.Warn("attempt %d/%d for operation %q failed: %v, retrying in %.2fs",
			attempt+1, e.policy.MaxAttempts, operation, err, delay.Seconds())

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry of %q cancelled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	e.logger.Error("retry exhausted for operation %q after %d attempts, last error: %v (%T)",
		operation, e.policy.MaxAttempts, lastErr, lastErr)

	return &ExhaustedError{
		Operation: operation,
		Attempts:  e.policy.MaxAttempts,
		LastErr:   lastErr,
	}
}
