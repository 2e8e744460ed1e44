// Package sweeper implements the Background Sweeper (C9): a cooperative
// set of independently-cancellable periodic tasks — token reaper,
// instance demoter, and relay prober (§4.9).
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/fsm"
	"github.com/tunnelnet/controlplane/internal/infra/metrics"
	"github.com/tunnelnet/controlplane/internal/relay"
)

// Config bundles the sweeper's period/threshold parameters.
type Config struct {
	TokenReapInterval      time.Duration // default 1 min
	HeartbeatCheckInterval time.Duration // default 10s
	HeartbeatTimeout       time.Duration // default 30s
	ProbeInterval          time.Duration // relay health probe cadence
	ConnectTimeout         time.Duration // default 2 min; starting → error past this
}

// DefaultConfig returns the spec's documented periods.
func DefaultConfig() Config {
	return Config{
		TokenReapInterval:      time.Minute,
		HeartbeatCheckInterval: 10 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		ProbeInterval:          30 * time.Second,
		ConnectTimeout:         2 * time.Minute,
	}
}

// ProbeFunc performs a relay health probe, guarded by the caller through
// its circuit breaker. A non-nil error means the probe failed.
type ProbeFunc func(ctx context.Context, rl domain.Relay) error

// Sweeper owns the three periodic tasks.
type Sweeper struct {
	store  domain.Store
	fsm    *fsm.FSM
	relays *relay.Registry
	bus    domain.EventBus
	cfg    Config
	probe  ProbeFunc
	now    domain.Clock

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Sweeper. probe may be nil if relay probing is
// disabled (e.g. in tests).
func New(store domain.Store, f *fsm.FSM, relays *relay.Registry, bus domain.EventBus, cfg Config, probe ProbeFunc) *Sweeper {
	return &Sweeper{
		store: store, fsm: f, relays: relays, bus: bus,
		cfg: cfg, probe: probe, now: time.Now,
		stop: make(chan struct{}),
	}
}

// Start launches the three tasks in their own goroutines.
func (s *Sweeper) Start() {
	s.wg.Add(3)
	go s.runTokenReaper()
	go s.runInstanceDemoter()
	go s.runRelayProber()
}

// Stop signals every task to finish its current iteration and return,
// waiting up to deadline.
func (s *Sweeper) Stop(deadline time.Duration) {
	close(s.stop)
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(deadline):
		log.Printf("[sweeper] shutdown deadline exceeded, some tasks may still be running")
	}
}

func (s *Sweeper) runTokenReaper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TokenReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredTokens(context.Background(), s.now())
			if err != nil {
				log.Printf("[sweeper] token reaper error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[sweeper] token reaper reaped %d expired tokens", n)
			}
		}
	}
}

func (s *Sweeper) runInstanceDemoter() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.demoteStale(context.Background())
			s.timeoutStaleConnects(context.Background())
		}
	}
}

func (s *Sweeper) demoteStale(ctx context.Context) {
	instances, err := s.store.ListConnectedInstances(ctx)
	if err != nil {
		log.Printf("[sweeper] instance demoter: list error: %v", err)
		return
	}

	now := s.now()
	for _, inst := range instances {
		if !inst.Status.Connected() {
			continue
		}
		if now.Sub(inst.UpdatedAt) <= s.cfg.HeartbeatTimeout {
			continue
		}
		if _, err := s.fsm.ApplyClassification(ctx, inst.ID, domain.Classification{
			Status: domain.StatusOffline,
			Reason: "heartbeat timeout",
		}); err != nil {
			log.Printf("[sweeper] instance demoter: demote %s error: %v", inst.ID, err)
		}
	}
}

// timeoutStaleConnects finds instances stuck in "starting" past
// ConnectTimeout — a relay that never calls back with tunnel-connected —
// and drives them to "error" so they stop occupying a quota/capacity
// slot and become reconnectable again (§4.4's starting → error edge).
func (s *Sweeper) timeoutStaleConnects(ctx context.Context) {
	instances, err := s.store.ListInstancesByStatus(ctx, domain.StatusStarting)
	if err != nil {
		log.Printf("[sweeper] connect timeout: list error: %v", err)
		return
	}

	now := s.now()
	for _, inst := range instances {
		if now.Sub(inst.UpdatedAt) <= s.cfg.ConnectTimeout {
			continue
		}
		if _, err := s.fsm.ConnectTimeout(ctx, inst.ID, "relay never confirmed tunnel-connected"); err != nil {
			log.Printf("[sweeper] connect timeout: demote %s error: %v", inst.ID, err)
		}
	}
}

func (s *Sweeper) runRelayProber() {
	defer s.wg.Done()
	if s.probe == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.probeRelays(context.Background())
		}
	}
}

func (s *Sweeper) probeRelays(ctx context.Context) {
	now := s.now()
	for _, rl := range s.relays.List() {
		if relay.IsStale(rl, s.cfg.ProbeInterval, now) && rl.Status != domain.RelayUnhealthy {
			if err := s.relays.MarkStatus(ctx, rl.ID, domain.RelayUnhealthy); err != nil {
				log.Printf("[sweeper] relay prober: mark %s unhealthy (stale) error: %v", rl.ID, err)
			}
			continue
		}

		breaker := s.relays.BreakerFor(rl.ID)
		err := breaker.Call(ctx, func(ctx context.Context) error {
			return s.probe(ctx, rl)
		})
		metrics.BreakerState.WithLabelValues(rl.ID).Set(breakerStateMetric(breaker.State()))
		if err == nil {
			continue
		}
		if breaker.State().String() == "OPEN" && rl.Status != domain.RelayUnhealthy {
			if markErr := s.relays.MarkStatus(ctx, rl.ID, domain.RelayUnhealthy); markErr != nil {
				log.Printf("[sweeper] relay prober: mark %s unhealthy error: %v", rl.ID, markErr)
				continue
			}
			if s.bus != nil {
				s.bus.Publish(domain.InstanceEvent{
					UserID: "admin", InstanceID: rl.ID,
					Status: domain.Status(domain.RelayUnhealthy), Reason: "breaker open", TS: s.now(),
				})
			}
		}
	}
}

func breakerStateMetric(s interface{ String() string }) float64 {
	switch s.String() {
	case "CLOSED":
		return 0
	case "HALF_OPEN":
		return 1
	default:
		return 2
	}
}
