package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Classifier decides whether a delivery failure is worth retrying.
type Classifier func(error) bool

// RetryAll is the default classifier: retry everything.
func RetryAll(error) bool { return true }

// WebhookClassifier is the default policy for webhook-style destinations:
// network errors, timeouts, 5xx and 429 responses are retryable; other
// client errors are not. Context cancellation always stops retrying.
func WebhookClassifier(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Delivery errors carry their own classification (5xx/429 transient,
	// other 4xx permanent); unknown errors default to retryable.
	return isRetryable(err)
}

// RetryPolicy contains retry executor configuration.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Jitter            time.Duration
	AttemptTimeout    time.Duration // per-attempt bound, 0 = none
}

// DefaultRetryPolicy returns default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		Jitter:            100 * time.Millisecond,
		AttemptTimeout:    15 * time.Second,
	}
}

// RetryExecutor wraps an operation with bounded, exponentially backed-off
// retries. A classifier hook decides which failures are retryable.
type RetryExecutor struct {
	policy   RetryPolicy
	classify Classifier

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates an executor. A nil classifier retries everything.
func NewRetryExecutor(policy RetryPolicy, classify Classifier) *RetryExecutor {
	if classify == nil {
		classify = RetryAll
	}
	return &RetryExecutor{
		policy:   policy,
		classify: classify,
		sleep:    sleepContext,
	}
}

// Execute runs op, retrying transient failures up to MaxRetries times. The
// operation is invoked at most MaxRetries+1 times; the delay before retry n
// is min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay) ± Jitter.
// Exhaustion surfaces the last observed error wrapped in
// RetriesExhaustedError; non-retryable failures are returned immediately.
func (e *RetryExecutor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	delay := e.policy.InitialDelay

	for attempt := 0; ; attempt++ {
		err := e.attempt(ctx, op)
		if err == nil {
			return nil
		}

		if !e.classify(err) {
			return err
		}

		if attempt >= e.policy.MaxRetries {
			return &RetriesExhaustedError{Attempts: attempt + 1, Err: err}
		}

		if sleepErr := e.sleep(ctx, e.jittered(delay)); sleepErr != nil {
			return sleepErr
		}

		delay = time.Duration(float64(delay) * e.policy.BackoffMultiplier)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}
}

func (e *RetryExecutor) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}
	return op(ctx)
}

// jittered applies uniform jitter in [-Jitter, +Jitter], clamped to >= 0.
func (e *RetryExecutor) jittered(delay time.Duration) time.Duration {
	if e.policy.Jitter <= 0 {
		return delay
	}

	jitter := time.Duration(rand.Int63n(int64(2*e.policy.Jitter))) - e.policy.Jitter
	delay += jitter
	if delay < 0 {
		return 0
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
