package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RunnerConfig contains fire-and-forget runner configuration.
type RunnerConfig struct {
	// PerKeyRate limits how many tasks with the same name may be launched
	// per second. Tasks over the limit are dropped, not queued: queuing
	// would reintroduce backpressure onto a path that must stay
	// non-blocking. 0 disables the limit.
	PerKeyRate  float64
	PerKeyBurst int
}

// TaskStats holds per-task-name counters.
type TaskStats struct {
	Launched      int64
	Succeeded     int64
	Failed        int64
	Dropped       int64
	TotalDuration time.Duration
}

// Runner launches tasks without the caller waiting for their completion.
// Any error or panic raised inside a task is observed (logged, counted) and
// never propagated to the launch site.
type Runner struct {
	config RunnerConfig
	logger *slog.Logger

	mu       sync.Mutex
	stats    map[string]*TaskStats
	limiters map[string]*rate.Limiter
	closed   bool

	wg sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(config RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:   config,
		logger:   logger,
		stats:    make(map[string]*TaskStats),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Launch starts task on its own goroutine. It never blocks and never
// raises; the return value reports whether the task was accepted (false
// after Close or when the rate limit dropped it).
func (r *Runner) Launch(name string, task func(ctx context.Context) error) bool {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("runner closed, task dropped", "task", name)
		return false
	}

	if r.config.PerKeyRate > 0 && !r.limiterLocked(name).Allow() {
		r.statsLocked(name).Dropped++
		r.mu.Unlock()
		r.logger.Warn("task dropped: rate limit exceeded", "task", name)
		recordTask(name, "dropped", 0)
		return false
	}

	r.statsLocked(name).Launched++
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(name, task)
	return true
}

// Close stops accepting new launches and waits for in-flight tasks.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
}

// Stats returns a snapshot of per-task counters.
func (r *Runner) Stats() map[string]TaskStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]TaskStats, len(r.stats))
	for name, st := range r.stats {
		snapshot[name] = *st
	}
	return snapshot
}

func (r *Runner) run(name string, task func(ctx context.Context) error) {
	defer r.wg.Done()

	start := time.Now()
	err := runContained(task)
	duration := time.Since(start)

	r.mu.Lock()
	st := r.statsLocked(name)
	st.TotalDuration += duration
	if err != nil {
		st.Failed++
	} else {
		st.Succeeded++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("task failed", "task", name, "duration", duration, "error", err)
		recordTask(name, "failed", duration)
		return
	}
	recordTask(name, "success", duration)
}

// runContained invokes task and converts a panic into an error, so nothing
// raised inside a task can escape the runner.
func runContained(task func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(context.Background())
}

func (r *Runner) statsLocked(name string) *TaskStats {
	st, ok := r.stats[name]
	if !ok {
		st = &TaskStats{}
		r.stats[name] = st
	}
	return st
}

func (r *Runner) limiterLocked(name string) *rate.Limiter {
	lim, ok := r.limiters[name]
	if !ok {
		burst := r.config.PerKeyBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(r.config.PerKeyRate), burst)
		r.limiters[name] = lim
	}
	return lim
}
