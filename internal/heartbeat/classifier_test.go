package heartbeat

import (
	"testing"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

func TestClassify_TunnelDisconnectedWinsFirst(t *testing.T) {
	now := time.Now()
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: false}
	got := Classify(inst, nil, &now, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusOffline || got.Reason != "tunnel disconnected" {
		t.Errorf("Classify() = %+v, want offline/tunnel disconnected", got)
	}
}

func TestClassify_AlreadyOfflineStaysOffline(t *testing.T) {
	now := time.Now()
	inst := domain.Instance{Status: domain.StatusOffline, TunnelConnected: true}
	got := Classify(inst, nil, &now, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusOffline {
		t.Errorf("Classify() = %+v, want offline", got)
	}
}

func TestClassify_NoHeartbeatIsOffline(t *testing.T) {
	now := time.Now()
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: true}
	got := Classify(inst, nil, nil, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusOffline || got.Reason != "heartbeat timeout" {
		t.Errorf("Classify() = %+v, want offline/heartbeat timeout", got)
	}
}

func TestClassify_StaleHeartbeatIsOffline(t *testing.T) {
	now := time.Now()
	last := now.Add(-31 * time.Second)
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: true}
	got := Classify(inst, nil, &last, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusOffline || got.Reason != "heartbeat timeout" {
		t.Errorf("Classify() = %+v, want offline/heartbeat timeout", got)
	}
}

func TestClassify_UnresponsiveComponentIsDegraded(t *testing.T) {
	now := time.Now()
	unresponsive := false
	hasCS := true
	sample := &domain.HealthSample{HasCodeServer: &hasCS, VSCodeResponsive: &unresponsive}
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: true}
	got := Classify(inst, sample, &now, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusDegraded {
		t.Errorf("Classify() = %+v, want degraded", got)
	}
}

func TestClassify_PastIdleThresholdIsIdle(t *testing.T) {
	now := time.Now()
	lastActivity := now.Add(-31 * time.Minute).Unix()
	sample := &domain.HealthSample{LastActivityEpoch: &lastActivity}
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: true}
	got := Classify(inst, sample, &now, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusIdle {
		t.Errorf("Classify() = %+v, want idle", got)
	}
}

func TestClassify_OtherwiseOnline(t *testing.T) {
	now := time.Now()
	inst := domain.Instance{Status: domain.StatusActive, TunnelConnected: true}
	got := Classify(inst, nil, &now, now, Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	if got.Status != domain.StatusOnline || got.Reason != "all systems operational" {
		t.Errorf("Classify() = %+v, want online/all systems operational", got)
	}
}
