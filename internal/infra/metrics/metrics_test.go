package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestHeartbeatLatency_Registered(t *testing.T) {
	HeartbeatLatency.Observe(0.05)
	HeartbeatLatency.Observe(0.12)

	if !gatheredNames(t)["tunnelnet_heartbeat_latency_seconds"] {
		t.Error("tunnelnet_heartbeat_latency_seconds not found in gathered metrics")
	}
}

func TestStatusTransitions_Registered(t *testing.T) {
	StatusTransitions.WithLabelValues("starting", "active").Inc()
	StatusTransitions.WithLabelValues("active", "offline").Inc()

	if !gatheredNames(t)["tunnelnet_status_transitions_total"] {
		t.Error("tunnelnet_status_transitions_total not found in gathered metrics")
	}
}

func TestRelayAndBreakerMetrics_Registered(t *testing.T) {
	RelayUtilization.WithLabelValues("r1").Set(42.5)
	BreakerState.WithLabelValues("r1").Set(0)
	BreakerRejections.WithLabelValues("r1").Inc()

	names := gatheredNames(t)
	for _, want := range []string{"tunnelnet_relay_utilization_pct", "tunnelnet_breaker_state", "tunnelnet_breaker_rejections_total"} {
		if !names[want] {
			t.Errorf("%s not found in gathered metrics", want)
		}
	}
}

func TestAdmissionDecisions_Registered(t *testing.T) {
	AdmissionDecisions.WithLabelValues("system", "allow").Inc()
	AdmissionDecisions.WithLabelValues("user", "deny").Inc()

	if !gatheredNames(t)["tunnelnet_admission_decisions_total"] {
		t.Error("tunnelnet_admission_decisions_total not found in gathered metrics")
	}
}
