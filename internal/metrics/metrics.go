// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scheduleFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_schedule_firings_total",
			Help: "Total number of schedule firings",
		},
		[]string{"schedule", "outcome"},
	)

	schedulesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_schedules_active",
			Help: "Number of enabled active schedules",
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_executions_total",
			Help: "Total number of workflow executions by final status",
		},
		[]string{"status"},
	)

	executionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_executions_in_flight",
			Help: "Number of workflow executions currently running",
		},
	)

	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_execution_duration_seconds",
			Help:    "End-to-end workflow execution time in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	nodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_node_executions_total",
			Help: "Total number of node executions by outcome",
		},
		[]string{"status"},
	)

	nodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_node_duration_seconds",
			Help:    "Per-node generation time in seconds",
			Buckets: []float64{.05, .25, 1, 5, 15, 60, 300, 900},
		},
	)

	checkpointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_checkpoints_written_total",
			Help: "Total number of checkpoints written",
		},
		[]string{"reason"},
	)

	recoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_recoveries_total",
			Help: "Total number of executions recovered after restart",
		},
	)
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScheduleFiring counts one firing of a schedule.
func RecordScheduleFiring(scheduleID, outcome string) {
	scheduleFirings.WithLabelValues(scheduleID, outcome).Inc()
}

// SetActiveSchedules updates the active schedule gauge.
func SetActiveSchedules(n int) {
	schedulesActive.Set(float64(n))
}

// ExecutionStarted marks an execution as in flight.
func ExecutionStarted() {
	executionsInFlight.Inc()
}

// ExecutionFinished records the final status and duration of a run.
func ExecutionFinished(status string, duration time.Duration) {
	executionsInFlight.Dec()
	executionsTotal.WithLabelValues(status).Inc()
	executionDuration.Observe(duration.Seconds())
}

// RecordNodeExecution counts one node outcome.
func RecordNodeExecution(status string, duration time.Duration) {
	nodeExecutions.WithLabelValues(status).Inc()
	nodeDuration.Observe(duration.Seconds())
}

// RecordCheckpoint counts one checkpoint write.
func RecordCheckpoint(reason string) {
	checkpointsWritten.WithLabelValues(reason).Inc()
}

// RecordRecovery counts one recovered execution.
func RecordRecovery() {
	recoveriesTotal.Inc()
}
