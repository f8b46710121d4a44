package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSendFailed = errors.New("send failed")

func failingOp(ctx context.Context) error { return errSendFailed }

func succeedingOp(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := cb.Call(ctx, failingOp)
		assert.ErrorIs(t, err, errSendFailed)
		assert.Equal(t, StateClosed, cb.State())
	}

	err := cb.Call(ctx, failingOp)
	assert.ErrorIs(t, err, errSendFailed)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	require.Error(t, cb.Call(ctx, failingOp))
	require.NoError(t, cb.Call(ctx, succeedingOp))

	assert.Equal(t, 0, cb.ConsecutiveFailures())

	// Two more failures do not reach the threshold again.
	require.Error(t, cb.Call(ctx, failingOp))
	require.Error(t, cb.Call(ctx, failingOp))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = clock.now
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	invoked := 0
	clock.advance(30 * time.Second)
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked++
		return nil
	})

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "webhook-main", openErr.Destination)
	assert.Equal(t, 30*time.Second, openErr.RetryAfter)
	assert.False(t, isRetryable(err))
	assert.Zero(t, invoked)
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = clock.now
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	clock.advance(61 * time.Second)

	require.NoError(t, cb.Call(ctx, succeedingOp))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = clock.now
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	clock.advance(61 * time.Second)

	require.ErrorIs(t, cb.Call(ctx, failingOp), errSendFailed)
	assert.Equal(t, StateOpen, cb.State())

	// The failed probe restarts the full reset window.
	clock.advance(59 * time.Second)
	var openErr *CircuitOpenError
	assert.ErrorAs(t, cb.Call(ctx, succeedingOp), &openErr)
}

func TestCircuitBreaker_SingleHalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = clock.now
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	clock.advance(61 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- cb.Call(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// A concurrent call while the probe is in flight fails fast.
	var openErr *CircuitOpenError
	assert.ErrorAs(t, cb.Call(ctx, succeedingOp), &openErr)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("webhook-main", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
	assert.NoError(t, cb.Call(ctx, succeedingOp))
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
