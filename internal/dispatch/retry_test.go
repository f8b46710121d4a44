package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/notify"
)

// instantSleep replaces the executor's backoff sleep and records the
// requested delays.
func instantSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryExecutor_SucceedsFirstAttempt(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: time.Minute}, nil)

	var delays []time.Duration
	executor.sleep = instantSleep(&delays)

	invocations := 0
	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		invocations++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
	assert.Empty(t, delays)
}

func TestRetryExecutor_RetriesUntilSuccess(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: time.Minute}, nil)

	var delays []time.Duration
	executor.sleep = instantSleep(&delays)

	invocations := 0
	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		invocations++
		if invocations < 3 {
			return errSendFailed
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, invocations)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetryExecutor_ExhaustionWrapsLastError(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: time.Minute}, nil)

	var delays []time.Duration
	executor.sleep = instantSleep(&delays)

	invocations := 0
	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		invocations++
		return errSendFailed
	})

	assert.Equal(t, 3, invocations)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errSendFailed)
}

func TestRetryExecutor_BackoffCappedAtMaxDelay(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 5, InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: 3 * time.Second}, nil)

	var delays []time.Duration
	executor.sleep = instantSleep(&delays)

	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		return errSendFailed
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestRetryExecutor_JitterStaysNonNegative(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second, Jitter: 10 * time.Millisecond}, nil)

	for i := 0; i < 100; i++ {
		d := executor.jittered(time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 11*time.Millisecond)
	}
}

func TestRetryExecutor_NonRetryableReturnsImmediately(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: time.Minute}, WebhookClassifier)

	var delays []time.Duration
	executor.sleep = instantSleep(&delays)

	permanent := &notify.PermanentError{Code: 404, Message: "not found"}
	invocations := 0
	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		invocations++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, invocations)
	assert.Empty(t, delays)
}

func TestRetryExecutor_ContextCancelDuringBackoff(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, BackoffMultiplier: 2.0, MaxDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invocations := 0
	err := executor.Execute(ctx, func(ctx context.Context) error {
		invocations++
		return errSendFailed
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, invocations)
}

func TestRetryExecutor_AttemptTimeout(t *testing.T) {
	executor := NewRetryExecutor(RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second, AttemptTimeout: 10 * time.Millisecond}, nil)

	invocations := 0
	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		invocations++
		<-ctx.Done()
		return ctx.Err()
	})

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, invocations)
}

func TestWebhookClassifier(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "context canceled",
			err:       context.Canceled,
			retryable: false,
		},
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			retryable: true,
		},
		{
			name:      "transient delivery error",
			err:       &notify.TransientError{Code: 503, Message: "unavailable"},
			retryable: true,
		},
		{
			name:      "permanent delivery error",
			err:       &notify.PermanentError{Code: 400, Message: "bad request"},
			retryable: false,
		},
		{
			name:      "circuit open",
			err:       &CircuitOpenError{Destination: "d", RetryAfter: time.Second},
			retryable: false,
		},
		{
			name:      "unknown error defaults to retryable",
			err:       errors.New("boom"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, WebhookClassifier(tt.err))
		})
	}
}
