package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }
func succeedingOp(context.Context) error { return nil }

func newTestBreaker(recovery time.Duration) *Breaker {
	return New("test_dependency", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  recovery,
		HalfOpenMaxCalls: 1,
	})
}

func TestBreakerStartsClosed(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	ctx := context.Background()

	for n := 1; n < 3; n++ {
		err := b.Execute(ctx, failingOp)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, Closed, b.State())
		assert.Equal(t, n, b.FailureCount())
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	assert.Equal(t, Open, b.State())
}

func TestOpenBreakerRejectsWithoutInvoking(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}

	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	var openErr *Error
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test_dependency", openErr.Name)
	assert.Greater(t, openErr.TimeUntilRetry, time.Duration(0))
	assert.False(t, invoked, "wrapped operation must not run while open")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp)
	_ = b.Execute(ctx, failingOp)
	require.Equal(t, 2, b.FailureCount())

	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, 0, b.FailureCount())
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	time.Sleep(30 * time.Millisecond)

	err := b.Execute(ctx, failingOp)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	// The recovery window restarted: an immediate call is rejected again.
	var openErr *Error
	err = b.Execute(ctx, succeedingOp)
	require.ErrorAs(t, err, &openErr)
}

func TestHalfOpenAdmitsSingleConcurrentTrial(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	time.Sleep(30 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)

	go func() {
		trialDone <- b.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	require.Equal(t, HalfOpen, b.State())

	// Second concurrent call during the trial is rejected.
	var openErr *Error
	err := b.Execute(ctx, succeedingOp)
	require.ErrorAs(t, err, &openErr)

	close(release)
	require.NoError(t, <-trialDone)
	assert.Equal(t, Closed, b.State())
}

func TestCheckDoesNotConsumeTrialSlot(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}

	var openErr *Error
	require.ErrorAs(t, b.Check(), &openErr)

	time.Sleep(30 * time.Millisecond)

	// Eligible for recovery: Check passes and the trial slot is still free.
	require.NoError(t, b.Check())
	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, Closed, b.State())
}

func TestReset(t *testing.T) {
	b := newTestBreaker(30 * time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
	require.NoError(t, b.Execute(ctx, succeedingOp))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Name: "generation_engine", TimeUntilRetry: 12 * time.Second}
	assert.Equal(t, `circuit breaker "generation_engine" is open, retry in 12 seconds`, err.Error())

	err = &Error{Name: "generation_engine"}
	assert.Equal(t, `circuit breaker "generation_engine" is open`, err.Error())
}
