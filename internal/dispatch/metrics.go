package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hookline"

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Total dispatch outcomes per destination",
		},
		[]string{"destination", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"destination"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per destination (0=closed, 1=half-open, 2=open)",
		},
		[]string{"destination"},
	)

	batchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_flushes_total",
			Help:      "Batch flushes per destination and trigger",
		},
		[]string{"destination", "trigger"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tasks_total",
			Help:      "Fire-and-forget task outcomes per task name",
		},
		[]string{"task", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "task_duration_seconds",
			Help:      "Fire-and-forget task duration",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"task"},
	)
)

// recordDispatch records a dispatch outcome for a destination.
func recordDispatch(destination, status string) {
	dispatchesTotal.WithLabelValues(destination, status).Inc()
}

// recordSendDuration records delivery duration for a destination.
func recordSendDuration(destination string, duration time.Duration) {
	sendDuration.WithLabelValues(destination).Observe(duration.Seconds())
}

// recordBreakerState updates the breaker state gauge.
func recordBreakerState(destination string, state BreakerState) {
	var v float64
	switch state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(destination).Set(v)
}

// recordBatchFlush records one batch flush and its trigger (size, timeout
// or drain).
func recordBatchFlush(destination, trigger string) {
	batchFlushes.WithLabelValues(destination, trigger).Inc()
}

// recordTask records a fire-and-forget task outcome.
func recordTask(task, status string, duration time.Duration) {
	tasksTotal.WithLabelValues(task, status).Inc()
	if duration > 0 {
		taskDuration.WithLabelValues(task).Observe(duration.Seconds())
	}
}
