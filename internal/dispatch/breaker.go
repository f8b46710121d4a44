package dispatch

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

// Breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// CircuitBreaker isolates a failing destination: after FailureThreshold
// consecutive failures it rejects calls fast with CircuitOpenError until
// ResetTimeout elapses, then admits exactly one probing call whose outcome
// closes or reopens the circuit.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureAt       time.Time
	probing             bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker for one destination. name is used for
// error attribution and metrics.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Call invokes op guarded by the breaker. The breaker lock is never held
// across the op invocation. The triggering error is returned to the caller
// so it can be observed and classified.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed, transitioning
// Open -> HalfOpen when the reset timeout has elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailureAt)
		if elapsed < cb.config.ResetTimeout {
			return &CircuitOpenError{
				Destination: cb.name,
				RetryAfter:  cb.config.ResetTimeout - elapsed,
			}
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return nil

	default: // StateHalfOpen
		// Only one probe at a time; concurrent calls fail fast.
		if cb.probing {
			return &CircuitOpenError{
				Destination: cb.name,
				RetryAfter:  cb.config.ResetTimeout,
			}
		}
		cb.probing = true
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasHalfOpen := cb.state == StateHalfOpen
	cb.probing = false

	if err == nil {
		cb.consecutiveFailures = 0
		cb.state = StateClosed
		return
	}

	cb.consecutiveFailures++
	cb.lastFailureAt = cb.now()

	if wasHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = StateOpen
	}
}

// Reset forces the breaker closed and zeroes counters. Intended for tests
// and administrative recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.lastFailureAt = time.Time{}
	cb.probing = false
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}
