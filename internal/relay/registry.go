// Package relay implements the relay registry, scheduler, and fleet
// stats aggregation (C6). The in-process relay map is guarded by a
// single reader/writer lock per §5: writes on registration, load
// update, and health transition; reads on every connect; never held
// across I/O.
package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tunnelnet/controlplane/internal/breaker"
	"github.com/tunnelnet/controlplane/internal/domain"
)

// bandwidthEMAAlpha is the exponential-moving-average smoothing factor
// applied to relay bandwidth reports (§9 open question, resolved: EMA
// with a short window rather than an instantaneous overwrite).
const bandwidthEMAAlpha = 0.3

// Registry tracks relays in memory, mirrored to the Store, and computes
// selection/fleet stats over them.
type Registry struct {
	store domain.Store
	now   domain.Clock

	mu     sync.RWMutex
	relays map[string]domain.Relay

	bmu      sync.Mutex
	breakers map[string]*breaker.Breaker
}

// New constructs a Registry. Call Load once at startup to hydrate the
// in-process map from the Store.
func New(store domain.Store) *Registry {
	return &Registry{
		store:    store,
		now:      time.Now,
		relays:   make(map[string]domain.Relay),
		breakers: make(map[string]*breaker.Breaker),
	}
}

// Load hydrates the in-process relay map from the Store. Called once at
// daemon startup.
func (r *Registry) Load(ctx context.Context) error {
	relays, err := r.store.ListRelays(ctx)
	if err != nil {
		return fmt.Errorf("load relays: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rl := range relays {
		r.relays[rl.ID] = rl
	}
	return nil
}

// Register adds or updates a relay's registration, persisting to the
// Store before mirroring in-process (§4.6 — relays "Registered
// externally").
func (r *Registry) Register(ctx context.Context, rl domain.Relay) error {
	if rl.Status == "" {
		rl.Status = domain.RelayActive
	}
	rl.LastHealthCheck = r.now()
	if err := r.store.RelayUpsert(ctx, rl); err != nil {
		return err
	}
	r.mu.Lock()
	r.relays[rl.ID] = rl
	r.mu.Unlock()
	return nil
}

// ReportLoad updates a relay's current_load (instantaneous) and
// current_bw_mbps (EMA-smoothed) from a relay's own periodic report.
func (r *Registry) ReportLoad(ctx context.Context, id string, load int, bwMbps float64) error {
	r.mu.Lock()
	rl, ok := r.relays[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRelayNotFound
	}
	rl.CurrentLoad = load
	if rl.CurrentBWMbps == 0 {
		rl.CurrentBWMbps = bwMbps
	} else {
		rl.CurrentBWMbps = bandwidthEMAAlpha*bwMbps + (1-bandwidthEMAAlpha)*rl.CurrentBWMbps
	}
	rl.LastHealthCheck = r.now()
	r.relays[id] = rl
	r.mu.Unlock()

	return r.store.RelayUpsert(ctx, rl)
}

// MarkStatus transitions a relay's health status (operator action,
// breaker trip, or stale probe — §4.6).
func (r *Registry) MarkStatus(ctx context.Context, id string, status domain.RelayStatus) error {
	r.mu.Lock()
	rl, ok := r.relays[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRelayNotFound
	}
	rl.Status = status
	rl.LastHealthCheck = r.now()
	r.relays[id] = rl
	r.mu.Unlock()

	return r.store.RelaySetStatus(ctx, id, status)
}

// Get returns a snapshot of one relay.
func (r *Registry) Get(id string) (domain.Relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.relays[id]
	return rl, ok
}

// List returns a snapshot of every relay.
func (r *Registry) List() []domain.Relay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Relay, 0, len(r.relays))
	for _, rl := range r.relays {
		out = append(out, rl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BreakerFor returns the circuit breaker guarding calls to relay id,
// creating one with default config on first use.
func (r *Registry) BreakerFor(id string) *breaker.Breaker {
	r.bmu.Lock()
	defer r.bmu.Unlock()
	b, ok := r.breakers[id]
	if !ok {
		b = breaker.New(id, breaker.DefaultConfig(), r.now)
		r.breakers[id] = b
	}
	return b
}

// StaleThreshold is the multiple of the probe interval after which a
// relay with no recent health check is considered unhealthy (§4.6b).
const StaleThreshold = 2

// IsStale reports whether rl's last health check is older than
// StaleThreshold × probeInterval.
func IsStale(rl domain.Relay, probeInterval time.Duration, now time.Time) bool {
	if rl.LastHealthCheck.IsZero() {
		return true
	}
	return now.Sub(rl.LastHealthCheck) > StaleThreshold*probeInterval
}
