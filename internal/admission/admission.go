// Package admission implements Capacity Admission (C7): the gate in
// front of create-instance and connect that enforces fleet headroom and
// per-user plan quotas.
package admission

import (
	"context"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/infra/metrics"
	"github.com/tunnelnet/controlplane/internal/relay"
)

// DefaultReservedPct is the percentage of fleet capacity held back for
// headroom (§4.7 default 20).
const DefaultReservedPct = 20

// Info is the capacity_info bundle attached to the request for
// downstream logging once admission passes.
type Info struct {
	FleetUtilizationPct float64
	UserActiveTunnels   int
	UserMaxConcurrent   int
}

// Gate evaluates system and per-user capacity checks.
type Gate struct {
	store       domain.Store
	relays      *relay.Registry
	reservedPct float64
}

// New constructs a Gate. reservedPct overrides DefaultReservedPct when
// the caller's config sets it to a positive value.
func New(store domain.Store, relays *relay.Registry, reservedPct float64) *Gate {
	if reservedPct <= 0 {
		reservedPct = DefaultReservedPct
	}
	return &Gate{store: store, relays: relays, reservedPct: reservedPct}
}

// CheckSystem evaluates the fleet-wide headroom check (§4.7 step 1).
// Utilization is derived from the Store's connected-instance count
// against the fleet's registered capacity — the ground truth I4
// enforces against — rather than relay-self-reported load, which only
// updates on a relay's own periodic report and can go stale. Any
// failure to read the Store fails closed (hasCapacity=false).
func (g *Gate) CheckSystem(ctx context.Context) (hasCapacity bool, utilizationPct float64, err error) {
	stats := g.relays.FleetStats()

	activeTunnels, err := g.store.CountActiveTunnels(ctx)
	if err != nil {
		metrics.AdmissionDecisions.WithLabelValues("system", "deny").Inc()
		return false, 0, err
	}
	if stats.TotalCapacity > 0 {
		utilizationPct = float64(activeTunnels) / float64(stats.TotalCapacity) * 100
	}

	hasCapacity = utilizationPct <= (100 - g.reservedPct)
	verdict := "allow"
	if !hasCapacity {
		verdict = "deny"
	}
	metrics.AdmissionDecisions.WithLabelValues("system", verdict).Inc()
	return hasCapacity, utilizationPct, nil
}

// CheckUserQuota evaluates the per-user quota check (§4.7 step 2).
func (g *Gate) CheckUserQuota(ctx context.Context, userID string, plan domain.Plan) (allowed bool, activeCount int, err error) {
	count, err := g.store.CountUserActiveTunnels(ctx, userID)
	if err != nil {
		metrics.AdmissionDecisions.WithLabelValues("user", "deny").Inc()
		return false, 0, err
	}
	max := plan.MaxConcurrent()
	allowed = count < max
	verdict := "allow"
	if !allowed {
		verdict = "deny"
	}
	metrics.AdmissionDecisions.WithLabelValues("user", verdict).Inc()
	return allowed, count, nil
}

// Check runs both gates in order and returns a populated Info bundle
// when both pass. Callers map ErrCapacityExceeded to 503 and
// ErrQuotaExceeded to 429 (§7).
func (g *Gate) Check(ctx context.Context, userID string, plan domain.Plan) (*Info, error) {
	hasCapacity, utilPct, err := g.CheckSystem(ctx)
	if err != nil {
		return nil, err
	}
	if !hasCapacity {
		return nil, domain.ErrCapacityExceeded
	}

	allowed, count, err := g.CheckUserQuota(ctx, userID, plan)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.ErrQuotaExceeded
	}

	return &Info{
		FleetUtilizationPct: utilPct,
		UserActiveTunnels:   count,
		UserMaxConcurrent:   plan.MaxConcurrent(),
	}, nil
}
