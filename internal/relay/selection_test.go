package relay

import (
	"context"
	"testing"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestSelect_EmptyFleetReturnsNil(t *testing.T) {
	r := newTestRegistry(t)
	if got := r.Select(); got != nil {
		t.Errorf("Select() on empty fleet = %+v, want nil", got)
	}
}

func TestSelect_SingleActiveRelayAlwaysReturned(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, domain.Relay{ID: "r1", MaxTunnels: 10, Status: domain.RelayActive})

	got := r.Select()
	if got == nil || got.ID != "r1" {
		t.Errorf("Select() = %+v, want r1", got)
	}
}

func TestSelect_PicksLeastUtilizedTieBreaksLexicographic(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, domain.Relay{ID: "b", MaxTunnels: 10, CurrentLoad: 5, Status: domain.RelayActive})
	r.Register(ctx, domain.Relay{ID: "a", MaxTunnels: 10, CurrentLoad: 5, Status: domain.RelayActive})
	r.Register(ctx, domain.Relay{ID: "c", MaxTunnels: 10, CurrentLoad: 9, Status: domain.RelayActive})

	got := r.Select()
	if got == nil || got.ID != "a" {
		t.Errorf("Select() = %+v, want tie-break winner \"a\"", got)
	}
}

func TestSelect_ExcludesUnhealthyRelays(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, domain.Relay{ID: "a", MaxTunnels: 10, CurrentLoad: 0, Status: domain.RelayUnhealthy})
	r.Register(ctx, domain.Relay{ID: "b", MaxTunnels: 10, CurrentLoad: 9, Status: domain.RelayActive})

	got := r.Select()
	if got == nil || got.ID != "b" {
		t.Errorf("Select() = %+v, want healthy relay \"b\"", got)
	}
}

func TestFleetStats_EmptyFleetIsZeroNotDivisionByZero(t *testing.T) {
	r := newTestRegistry(t)
	stats := r.FleetStats()
	if stats.ServerCount != 0 || stats.UtilizationPct != 0 || stats.BWUtilizationPct != 0 {
		t.Errorf("FleetStats() on empty fleet = %+v, want all zero", stats)
	}
}

func TestReportLoad_AppliesEMAToBandwidth(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, domain.Relay{ID: "a", MaxTunnels: 10, MaxBandwidthMbps: 1000, Status: domain.RelayActive})

	r.ReportLoad(ctx, "a", 1, 100)
	rl, _ := r.Get("a")
	if rl.CurrentBWMbps != 100 {
		t.Fatalf("first report CurrentBWMbps = %v, want 100 (seeds EMA)", rl.CurrentBWMbps)
	}

	r.ReportLoad(ctx, "a", 2, 200)
	rl, _ = r.Get("a")
	want := 0.3*200 + 0.7*100
	if rl.CurrentBWMbps != want {
		t.Errorf("second report CurrentBWMbps = %v, want %v", rl.CurrentBWMbps, want)
	}
}
