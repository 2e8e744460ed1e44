// Package heartbeat implements the Heartbeat & Health Engine (C3): the
// ordered status classifier and the handler that persists samples,
// touches the liveness cache, and drives the FSM on a status change.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// Params bundles the classifier's configurable thresholds.
type Params struct {
	HeartbeatTimeout time.Duration // default 30s
	IdleTimeout      time.Duration // default 15min
}

// Classify applies the ordered ruleset (§4.3) and returns a unique
// (status, reason) for any (instance, now, sample) — P4. lastHeartbeat is
// nil if no heartbeat has ever been recorded for this instance.
func Classify(inst domain.Instance, sample *domain.HealthSample, lastHeartbeat *time.Time, now time.Time, p Params) domain.Classification {
	if !inst.TunnelConnected || inst.Status == domain.StatusOffline {
		return domain.Classification{Status: domain.StatusOffline, Reason: "tunnel disconnected"}
	}

	if lastHeartbeat == nil || now.Sub(*lastHeartbeat) > p.HeartbeatTimeout {
		return domain.Classification{Status: domain.StatusOffline, Reason: "heartbeat timeout"}
	}

	if sample != nil && boolVal(sample.HasCodeServer) && !boolVal(sample.VSCodeResponsive) {
		return domain.Classification{Status: domain.StatusDegraded, Reason: "component not responding"}
	}

	if sample != nil && sample.LastActivityEpoch != nil {
		lastActivity := time.Unix(*sample.LastActivityEpoch, 0)
		if now.Sub(lastActivity) > p.IdleTimeout {
			return domain.Classification{
				Status: domain.StatusIdle,
				Reason: fmt.Sprintf("idle for over %d minutes", int(p.IdleTimeout.Minutes())),
			}
		}
	}

	return domain.Classification{Status: domain.StatusOnline, Reason: "all systems operational"}
}

func boolVal(b *bool) bool { return b != nil && *b }
