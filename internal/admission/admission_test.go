package admission

import (
	"context"
	"testing"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/relay"
	"github.com/tunnelnet/controlplane/internal/store"
)

func newTestGate(t *testing.T, reservedPct float64) (*Gate, domain.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	relays := relay.New(db)
	return New(db, relays, reservedPct), db
}

func TestCheckSystem_EmptyFleetHasCapacity(t *testing.T) {
	g, _ := newTestGate(t, 20)
	has, util, err := g.CheckSystem(context.Background())
	if err != nil {
		t.Fatalf("CheckSystem() error = %v", err)
	}
	if !has || util != 0 {
		t.Errorf("CheckSystem() = (%v, %v), want (true, 0)", has, util)
	}
}

func TestCheckSystem_OverReservedThresholdDenies(t *testing.T) {
	g, db := newTestGate(t, 20)
	ctx := context.Background()
	db.RelayUpsert(ctx, domain.Relay{ID: "r1", MaxTunnels: 10, Status: domain.RelayActive})
	g.relays.Load(ctx)

	user, _ := db.CreateUserAndAssignTrial(ctx, "a@example.com", "hash", "A")
	for i := 0; i < 9; i++ {
		db.CreateInstance(ctx, domain.Instance{
			Owner: user.ID, Name: "i", Status: domain.StatusActive, TunnelConnected: true,
		})
	}

	has, util, err := g.CheckSystem(ctx)
	if err != nil {
		t.Fatalf("CheckSystem() error = %v", err)
	}
	if has {
		t.Errorf("CheckSystem() hasCapacity = true at %.1f%% utilization, want false (reserved 20%%)", util)
	}
}

func TestCheckUserQuota_TrialAllowsOneThenDenies(t *testing.T) {
	g, db := newTestGate(t, 20)
	ctx := context.Background()
	user, _ := db.CreateUserAndAssignTrial(ctx, "a@example.com", "hash", "A")

	allowed, count, err := g.CheckUserQuota(ctx, user.ID, domain.PlanTrial)
	if err != nil || !allowed || count != 0 {
		t.Fatalf("CheckUserQuota() = (%v, %v, %v), want (true, 0, nil)", allowed, count, err)
	}

	db.CreateInstance(ctx, domain.Instance{Owner: user.ID, Name: "a", Status: domain.StatusActive, TunnelConnected: true})

	allowed, count, err = g.CheckUserQuota(ctx, user.ID, domain.PlanTrial)
	if err != nil || allowed || count != 1 {
		t.Fatalf("CheckUserQuota() after 1 active = (%v, %v, %v), want (false, 1, nil)", allowed, count, err)
	}
}
