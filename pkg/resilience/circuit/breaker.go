// Package circuit provides a circuit breaker for guarding calls to failing
// external dependencies.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Testing if the dependency recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`   // Consecutive failures before opening
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`     // Wait before allowing a half-open trial
	HalfOpenMaxCalls int           `json:"half_open_max_calls" yaml:"half_open_max_calls"` // Concurrent trial calls admitted while half-open
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 3,
	RecoveryTimeout:  30 * time.Second,
	HalfOpenMaxCalls: 1,
}

// Error is returned when a call is rejected because the circuit is open.
// TimeUntilRetry is zero when no recovery estimate is available.
type Error struct {
	Name           string
	TimeUntilRetry time.Duration
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("circuit breaker %q is open", e.Name)
	if e.TimeUntilRetry > 0 {
		msg += fmt.Sprintf(", retry in %d seconds", int(e.TimeUntilRetry.Seconds()))
	}
	return msg
}

// Breaker guards one logical dependency. A single instance is shared by all
// concurrent callers of that dependency; the guarded operation itself runs
// outside the mutex so closed-state calls proceed in parallel.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	name            string
	config          Config
	mu              sync.Mutex
	state           State
	failureCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
}

// New creates a circuit breaker for the named dependency.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig.RecoveryTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultConfig.HalfOpenMaxCalls
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  Closed,
	}
}

// Name returns the name of the guarded dependency.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Execute runs the operation under circuit breaker protection. If the
// circuit is open and the recovery timeout has not elapsed, the operation is
// not invoked and an *Error is returned. The operation's own error is passed
// through unchanged.
func (b *Breaker) Execute(ctx context.Context, operation func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := operation(ctx)
	b.Record(err == nil)
	return err
}

// Check reports whether a call would currently be admitted, without
// consuming a half-open trial slot or transitioning state. Returns an
// *Error describing the rejection when the circuit is open and the recovery
// timeout has not elapsed.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !b.recoveryElapsed() {
		return b.openError()
	}
	return nil
}

// admit performs the entry-side state transitions: lazy Open -> HalfOpen
// recovery and the half-open trial admission cap.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if !b.recoveryElapsed() {
			return b.openError()
		}
		b.state = HalfOpen
		b.halfOpenCalls = 0
	}

	if b.state == HalfOpen {
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			// A trial call is already in flight.
			return b.openError()
		}
		b.halfOpenCalls++
	}

	return nil
}

// Record registers the outcome of a guarded call. Exposed so callers that
// cannot run inside Execute (streaming reads) can still feed the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// TimeUntilRetry returns the remaining time before an open circuit becomes
// eligible for a half-open trial. The second return is false when the
// circuit is not open or is already eligible.
func (b *Breaker) TimeUntilRetry() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return 0, false
	}
	remaining := b.timeUntilRetryLocked()
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Reset manually returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
	b.halfOpenCalls = 0
	b.lastFailureTime = time.Time{}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case HalfOpen:
		// Successful trial call closes the circuit.
		b.state = Closed
		b.failureCount = 0
		b.halfOpenCalls = 0
	case Closed:
		b.failureCount = 0
	case Open:
		// A success reported while open (streaming callers that bypassed
		// admit) is ignored; recovery goes through a half-open trial.
	}
}

func (b *Breaker) onFailure() {
	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		// Failed trial call reopens the circuit and restarts the window.
		b.state = Open
		b.halfOpenCalls = 0
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}
	case Open:
	}
}

// recoveryElapsed reports whether the recovery timeout has passed since the
// last failure. Caller must hold b.mu.
func (b *Breaker) recoveryElapsed() bool {
	if b.lastFailureTime.IsZero() {
		return true
	}
	return time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout
}

// timeUntilRetryLocked computes remaining wait before recovery eligibility.
// Caller must hold b.mu.
func (b *Breaker) timeUntilRetryLocked() time.Duration {
	if b.lastFailureTime.IsZero() {
		return 0
	}
	return b.config.RecoveryTimeout - time.Since(b.lastFailureTime)
}

// openError builds the rejection error with a retry hint when derivable.
// Caller must hold b.mu.
func (b *Breaker) openError() *Error {
	remaining := b.timeUntilRetryLocked()
	if remaining < 0 {
		remaining = 0
	}
	return &Error{
		Name:           b.name,
		TimeUntilRetry: remaining,
	}
}
