package dispatch

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned when a destination's circuit breaker rejects
// a call without invoking it. Callers must not retry immediately.
type CircuitOpenError struct {
	Destination string
	RetryAfter  time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Destination, e.RetryAfter.Round(time.Millisecond))
}

// IsRetryable returns false: retrying before the reset timeout is pointless.
func (e *CircuitOpenError) IsRetryable() bool { return false }

// RetriesExhaustedError wraps the last observed error once the retry budget
// is spent.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// isRetryable checks if an error is retryable. Errors advertise this via an
// IsRetryable method; unknown errors default to retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}
