// Package metrics provides Prometheus metrics for the tunnel control
// plane: heartbeat latency, status transitions, breaker trips, and
// capacity admission outcomes (§4.3, §4.10, §4.7 Observability notes).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Heartbeat & Status (C3) ────────────────────────────────────────────────

// HeartbeatLatency tracks heartbeat RPC round-trip duration.
var HeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tunnelnet",
	Name:      "heartbeat_latency_seconds",
	Help:      "Heartbeat round-trip latency.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// StatusTransitions counts instance status transitions by (from, to).
var StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tunnelnet",
	Name:      "status_transitions_total",
	Help:      "Instance status transitions by from/to status.",
}, []string{"from", "to"})

// ─── Relay & Circuit Breaker (C6, C10) ──────────────────────────────────────

// RelayUtilization tracks per-relay utilization percentage.
var RelayUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tunnelnet",
	Name:      "relay_utilization_pct",
	Help:      "Per-relay utilization percentage.",
}, []string{"relay"})

// BreakerState tracks circuit breaker state per relay (0=closed, 1=half_open, 2=open).
var BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tunnelnet",
	Name:      "breaker_state",
	Help:      "Circuit breaker state per relay (0=closed, 1=half_open, 2=open).",
}, []string{"relay"})

// BreakerRejections counts calls rejected while a breaker is open.
var BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tunnelnet",
	Name:      "breaker_rejections_total",
	Help:      "Calls rejected by an open circuit breaker.",
}, []string{"relay"})

// ─── Capacity Admission (C7) ────────────────────────────────────────────────

// AdmissionDecisions counts admission outcomes by gate and verdict.
var AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tunnelnet",
	Name:      "admission_decisions_total",
	Help:      "Capacity admission decisions by gate (system/user) and verdict (allow/deny).",
}, []string{"gate", "verdict"})
