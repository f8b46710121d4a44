package dispatch

import (
	"sync"
	"time"

	"github.com/hookline/hookline/internal/domain"
)

// BatchConfig contains batch aggregator configuration.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// DefaultBatchConfig returns default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:    10,
		Timeout: 5 * time.Second,
	}
}

// FlushFunc receives the events of exactly one flushed batch, in the order
// they were added.
type FlushFunc func(events []domain.Event)

// BatchAggregator accumulates events for one destination and flushes them
// as a single unit when either the size threshold is reached or the batch
// timeout elapses since the first unflushed event, whichever comes first.
type BatchAggregator struct {
	name   string
	config BatchConfig
	flush  FlushFunc

	mu     sync.Mutex
	buf    []domain.Event
	timer  *time.Timer
	gen    uint64
	closed bool
}

// NewBatchAggregator creates an aggregator for one destination that hands
// flushed batches to flush. flush is called synchronously from Add or the
// deadline timer; it must not block for long (the engine passes a
// fire-and-forget launch). name is used for metrics attribution.
func NewBatchAggregator(name string, config BatchConfig, flush FlushFunc) *BatchAggregator {
	return &BatchAggregator{
		name:   name,
		config: config,
		flush:  flush,
	}
}

// Add appends an event to the current batch. The deadline timer is armed
// only when the buffer goes from empty to non-empty, never re-armed per
// Add, so a steady stream of events cannot defer the flush indefinitely.
func (a *BatchAggregator) Add(event domain.Event) {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return
	}

	a.buf = append(a.buf, event)

	var batch []domain.Event
	if len(a.buf) >= a.config.Size {
		batch = a.takeLocked()
	} else if a.timer == nil {
		gen := a.gen
		a.timer = time.AfterFunc(a.config.Timeout, func() { a.flushDeadline(gen) })
	}

	a.mu.Unlock()

	if batch != nil {
		recordBatchFlush(a.name, "size")
		a.flush(batch)
	}
}

// Drain forces a final flush of any buffered events and stops accepting new
// ones. Must be called on shutdown so buffered notices are not dropped.
func (a *BatchAggregator) Drain() {
	a.mu.Lock()
	a.closed = true
	batch := a.takeLocked()
	a.mu.Unlock()

	if len(batch) > 0 {
		recordBatchFlush(a.name, "drain")
		a.flush(batch)
	}
}

// Len returns the number of buffered events.
func (a *BatchAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *BatchAggregator) flushDeadline(gen uint64) {
	a.mu.Lock()
	// A size-triggered flush may have raced the timer after it fired but
	// before this callback ran. The generation check keeps a stale timer
	// from flushing the next window's partial buffer.
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	batch := a.takeLocked()
	a.mu.Unlock()

	if len(batch) > 0 {
		recordBatchFlush(a.name, "timeout")
		a.flush(batch)
	}
}

// takeLocked swaps out the buffer and cancels the pending timer. Each event
// belongs to exactly one taken batch.
func (a *BatchAggregator) takeLocked() []domain.Event {
	batch := a.buf
	a.buf = nil
	a.gen++

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	return batch
}
