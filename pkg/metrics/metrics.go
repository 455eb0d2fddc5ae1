// Package metrics defines the Prometheus metrics exposed on /metrics.
//
// Naming follows Prometheus conventions: autopilot_ prefix for all custom
// metrics, _total suffix for counters, _seconds suffix for duration
// histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle results used as the "result" label on CyclesTotal.
const (
	ResultExecuted = "executed"
	ResultSkipped  = "skipped"
	ResultBlocked  = "blocked"
	ResultFailed   = "failed"
)

var (
	// CyclesTotal counts completed cognitive cycles by terminal result.
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_cycles_total",
			Help: "Total number of cognitive cycles by result.",
		},
		[]string{"result"},
	)

	// CycleDurationSeconds is a histogram of full cycle duration.
	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autopilot_cycle_duration_seconds",
			Help:    "Duration of cognitive cycles in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// RetryAttemptsTotal counts retries of infrastructure failures.
	RetryAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autopilot_retry_attempts_total",
			Help: "Total retry attempts for infrastructure failures.",
		},
	)

	// PolicyViolationsTotal counts guardrail blocks by violation code.
	PolicyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_policy_violations_total",
			Help: "Total actions blocked by guardrails, by violation code.",
		},
		[]string{"code"},
	)

	// ShadowRunsTotal counts shadow comparisons by outcome.
	ShadowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_shadow_runs_total",
			Help: "Total shadow planner comparisons by outcome.",
		},
		[]string{"outcome"},
	)

	// SignalSyncTotal counts market signal sync rounds by result.
	SignalSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_signal_sync_total",
			Help: "Total market signal sync rounds by result.",
		},
		[]string{"result"},
	)

	// ActiveCycles is the number of cycles currently executing.
	ActiveCycles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autopilot_active_cycles",
			Help: "Number of cognitive cycles currently executing.",
		},
	)

	// AgentsTracked is the number of enabled agents the scheduler knows about.
	AgentsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autopilot_agents_tracked",
			Help: "Number of enabled agents known to the scheduler.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDurationSeconds,
		RetryAttemptsTotal,
		PolicyViolationsTotal,
		ShadowRunsTotal,
		SignalSyncTotal,
		ActiveCycles,
		AgentsTracked,
	)
}

// RecordCycle records a completed cycle with its terminal result.
func RecordCycle(result string, duration time.Duration) {
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDurationSeconds.Observe(duration.Seconds())
}

// RecordViolation records a single guardrail block.
func RecordViolation(code string) {
	PolicyViolationsTotal.WithLabelValues(code).Inc()
}

// RecordShadow records one shadow comparison outcome.
func RecordShadow(diverged bool) {
	outcome := "match"
	if diverged {
		outcome = "divergence"
	}
	ShadowRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordSignalSync records one sync round outcome.
func RecordSignalSync(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SignalSyncTotal.WithLabelValues(result).Inc()
}
