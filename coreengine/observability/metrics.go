// Package observability provides Prometheus metrics instrumentation for the coreengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_sessions_total",
			Help: "Total number of deliberation sessions",
		},
		[]string{"outcome"}, // outcome: approved, vetoed, converged, budget_exhausted, round_cap_reached
	)

	sessionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conclave_session_duration_seconds",
			Help:    "Deliberation session duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
)

// =============================================================================
// ROUND & VOTE METRICS
// =============================================================================

var (
	roundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_rounds_total",
			Help: "Total number of review rounds",
		},
		[]string{"verdict"}, // verdict: approved, rejected
	)

	roundDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conclave_round_duration_seconds",
			Help:    "Review round duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	votesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_votes_total",
			Help: "Total number of persona votes cast",
		},
		[]string{"decision", "reachable"}, // decision: approve, reject; reachable: true, false
	)
)

// =============================================================================
// WORKER METRICS
// =============================================================================

var (
	workerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_worker_calls_total",
			Help: "Total number of worker invocations",
		},
		[]string{"worker", "status"}, // status: success, unavailable, budget_exhausted, error
	)

	workerCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conclave_worker_call_duration_seconds",
			Help:    "Worker call duration in seconds, including retries",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	workerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_worker_retries_total",
			Help: "Total number of worker call retries",
		},
		[]string{"worker", "reason"}, // reason: transient, request_too_large
	)

	circuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"worker", "state"}, // state: open, closed
	)
)

// =============================================================================
// BUDGET METRICS
// =============================================================================

var (
	spendTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conclave_spend_total",
			Help: "Cumulative worker spend recorded by the budget guard",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSession records session outcome metrics.
// This should be called once per deliberation session.
func RecordSession(outcome string, durationMS int) {
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordRound records review round metrics.
func RecordRound(verdict string, durationMS int) {
	roundsTotal.WithLabelValues(verdict).Inc()
	roundDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordVote records a single persona vote.
func RecordVote(approve bool, reachable bool) {
	decision := "reject"
	if approve {
		decision = "approve"
	}
	votesTotal.WithLabelValues(decision, boolLabel(reachable)).Inc()
}

// RecordWorkerCall records worker invocation metrics.
// This should be called once per logical call, after retries resolve.
func RecordWorkerCall(worker string, status string, durationMS int) {
	workerCallsTotal.WithLabelValues(worker, status).Inc()
	workerCallDurationSeconds.WithLabelValues(worker).Observe(float64(durationMS) / 1000.0)
}

// RecordWorkerRetry records a retried attempt and its classification.
func RecordWorkerRetry(worker string, reason string) {
	workerRetriesTotal.WithLabelValues(worker, reason).Inc()
}

// RecordCircuitTransition records a circuit breaker transition.
func RecordCircuitTransition(worker string, state string) {
	circuitTransitionsTotal.WithLabelValues(worker, state).Inc()
}

// RecordSpend records spend against the budget guard.
func RecordSpend(cost float64) {
	if cost > 0 {
		spendTotal.Add(cost)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
