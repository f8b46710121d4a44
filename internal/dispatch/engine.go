// Package dispatch implements a resilient, non-blocking notification
// dispatch engine: cooldown dedup, per-destination circuit breaking,
// bounded retries with backoff, optional batching, and fire-and-forget
// task launch with error containment. Delivery failures are never visible
// to the producer; they surface only through logs and metrics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/notify"
)

// Config contains engine configuration.
type Config struct {
	Breaker  BreakerConfig
	Retry    RetryPolicy
	Cooldown CooldownConfig
	Batch    BatchConfig
	Runner   RunnerConfig

	// Classify overrides failure classification for retries.
	// Nil selects WebhookClassifier.
	Classify Classifier
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Breaker:  DefaultBreakerConfig(),
		Retry:    DefaultRetryPolicy(),
		Cooldown: DefaultCooldownConfig(),
		Batch:    DefaultBatchConfig(),
	}
}

// BreakerSnapshot is a point-in-time view of one destination's breaker.
type BreakerSnapshot struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Stats is a point-in-time view of engine internals, exposed for
// operability (the stats API endpoint).
type Stats struct {
	Tasks           map[string]TaskStats       `json:"tasks"`
	Breakers        map[string]BreakerSnapshot `json:"breakers"`
	CooldownEntries int                        `json:"cooldown_entries"`
}

// Engine routes events to configured destinations. All per-destination
// state (breakers, batch buffers) is created lazily on first use and lives
// until Shutdown; nothing survives a restart. Dropping a few notices on
// crash is the accepted cost of never blocking the producer.
type Engine struct {
	config       Config
	logger       *slog.Logger
	renderer     *notify.Renderer
	destinations []domain.Destination
	notifiers    map[domain.DestinationType]notify.Notifier

	cooldown *CooldownCache
	runner   *Runner
	executor *RetryExecutor

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	batchers map[string]*BatchAggregator
	closed   bool
}

// NewEngine creates a dispatch engine delivering to destinations through
// the given notifiers, keyed by their Type.
func NewEngine(config Config, logger *slog.Logger, renderer *notify.Renderer, destinations []domain.Destination, notifiers ...notify.Notifier) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	notifierMap := make(map[domain.DestinationType]notify.Notifier, len(notifiers))
	for _, n := range notifiers {
		notifierMap[n.Type()] = n
	}

	classify := config.Classify
	if classify == nil {
		classify = WebhookClassifier
	}

	return &Engine{
		config:       config,
		logger:       logger,
		renderer:     renderer,
		destinations: destinations,
		notifiers:    notifierMap,
		cooldown:     NewCooldownCache(config.Cooldown),
		runner:       NewRunner(config.Runner, logger),
		executor:     NewRetryExecutor(config.Retry, classify),
		breakers:     make(map[string]*CircuitBreaker),
		batchers:     make(map[string]*BatchAggregator),
	}
}

// Dispatch fans the event out to all configured destinations. It never
// blocks on delivery and never returns an error: failures are contained in
// the launched tasks and only ever reach logs and metrics.
func (e *Engine) Dispatch(event domain.Event) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		e.logger.Debug("engine closed, event dropped", "event_id", event.ID)
		return
	}

	for _, dest := range e.destinations {
		if _, ok := e.notifiers[dest.Type]; !ok {
			e.logger.Warn("no notifier for destination type", "type", dest.Type)
			continue
		}

		// Suppressed events are dropped silently: a counter, no log spam.
		if !e.cooldown.ShouldSend(dedupKey(dest, event)) {
			recordDispatch(dest.Key, "suppressed")
			continue
		}

		if dest.Batch {
			e.batcher(dest).Add(event)
			continue
		}

		e.launch(dest, []domain.Event{event})
	}
}

// Shutdown stops accepting events, drains batch buffers and waits for
// in-flight tasks, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	batchers := make([]*BatchAggregator, 0, len(e.batchers))
	for _, b := range e.batchers {
		batchers = append(batchers, b)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, b := range batchers {
			b.Drain()
		}
		e.runner.Close()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("dispatch engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown dispatch engine: %w", ctx.Err())
	}
}

// Stats returns a snapshot of engine internals.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	breakers := make(map[string]BreakerSnapshot, len(e.breakers))
	for key, cb := range e.breakers {
		breakers[key] = BreakerSnapshot{
			State:               cb.State().String(),
			ConsecutiveFailures: cb.ConsecutiveFailures(),
		}
	}
	e.mu.Unlock()

	return Stats{
		Tasks:           e.runner.Stats(),
		Breakers:        breakers,
		CooldownEntries: e.cooldown.Len(),
	}
}

// launch starts the fire-and-forget delivery of events to one destination.
func (e *Engine) launch(dest domain.Destination, events []domain.Event) {
	e.runner.Launch("dispatch:"+dest.Key, func(ctx context.Context) error {
		return e.deliver(ctx, dest, events)
	})
}

// deliver runs the full chain for one delivery unit: render, then
// breaker(retry(send)). A flushed batch is one retryable, circuit-broken
// unit. On success every event's dedup key is marked sent; on failure
// MarkSent is skipped so the next event for the key may retry sooner.
func (e *Engine) deliver(ctx context.Context, dest domain.Destination, events []domain.Event) error {
	notifier := e.notifiers[dest.Type]

	subject, body, err := e.renderer.Render(dest.Type, events)
	if err != nil {
		recordDispatch(dest.Key, "failed")
		return fmt.Errorf("render for %s: %w", dest.Key, err)
	}
	msg := notify.Message{To: dest.Target, Subject: subject, Body: body}

	breaker := e.breaker(dest.Key)
	err = breaker.Call(ctx, func(ctx context.Context) error {
		return e.executor.Execute(ctx, func(ctx context.Context) error {
			start := time.Now()
			sendErr := notifier.Send(ctx, msg)
			recordSendDuration(dest.Key, time.Since(start))
			return sendErr
		})
	})
	recordBreakerState(dest.Key, breaker.State())

	if err != nil {
		var circuitErr *CircuitOpenError
		if errors.As(err, &circuitErr) {
			recordDispatch(dest.Key, "circuit_open")
		} else {
			recordDispatch(dest.Key, "failed")
		}
		return fmt.Errorf("deliver to %s: %w", dest.Key, err)
	}

	for _, ev := range events {
		e.cooldown.MarkSent(dedupKey(dest, ev))
	}
	recordDispatch(dest.Key, "success")

	e.logger.Debug("notification delivered",
		"destination", dest.Key,
		"events", len(events),
	)
	return nil
}

func (e *Engine) breaker(key string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, e.config.Breaker)
		e.breakers[key] = cb
	}
	return cb
}

func (e *Engine) batcher(dest domain.Destination) *BatchAggregator {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batchers[dest.Key]
	if !ok {
		d := dest
		b = NewBatchAggregator(d.Key, e.config.Batch, func(events []domain.Event) {
			e.launch(d, events)
		})
		e.batchers[dest.Key] = b
	}
	return b
}

// dedupKey derives the cooldown key: suppression is per (destination,
// event signature), not merely per destination.
func dedupKey(dest domain.Destination, event domain.Event) string {
	return dest.Key + "|" + event.Signature()
}
