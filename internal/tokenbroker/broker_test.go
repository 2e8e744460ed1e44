package tokenbroker

import (
	"context"
	"testing"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/store"
)

func newTestBroker(t *testing.T) (*Broker, domain.Store, *domain.Instance) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	user, err := db.CreateUserAndAssignTrial(context.Background(), "a@example.com", "hash", "A")
	if err != nil {
		t.Fatalf("CreateUserAndAssignTrial() error = %v", err)
	}
	inst, err := db.CreateInstance(context.Background(), domain.Instance{
		Owner: user.ID, Name: "box", LocalPort: 22, Status: domain.StatusStarting,
	})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	return New(db, time.Hour), db, inst
}

func TestConnect_MintsValidatableToken(t *testing.T) {
	b, _, inst := newTestBroker(t)

	tok, err := b.Connect(context.Background(), *inst, inst.Owner)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	verdict, err := b.Validate(context.Background(), tok.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !verdict.Valid {
		t.Errorf("verdict.Valid = false, want true: %s", verdict.Message)
	}
	if verdict.InstanceID != inst.ID {
		t.Errorf("verdict.InstanceID = %q, want %q", verdict.InstanceID, inst.ID)
	}
}

func TestConnect_ReplacesPriorTokenAtomically(t *testing.T) {
	b, db, inst := newTestBroker(t)

	first, err := b.Connect(context.Background(), *inst, inst.Owner)
	if err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}

	updated, err := db.GetInstance(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() error = %v", err)
	}

	second, err := b.Connect(context.Background(), *updated, inst.Owner)
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if second.Token == first.Token {
		t.Fatalf("second token equals first, want distinct")
	}

	verdict, err := b.Validate(context.Background(), first.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if verdict.Valid {
		t.Errorf("first token still valid after replacement, want invalidated")
	}
}

func TestValidate_ExpiredTokenIsInvalid(t *testing.T) {
	b, _, inst := newTestBroker(t)
	b.ttl = -time.Minute // force immediate expiry

	tok, err := b.Connect(context.Background(), *inst, inst.Owner)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	verdict, err := b.Validate(context.Background(), tok.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if verdict.Valid {
		t.Errorf("verdict.Valid = true, want false for expired token")
	}
}

func TestValidate_UnknownTokenIsInvalid(t *testing.T) {
	b, _, _ := newTestBroker(t)
	verdict, err := b.Validate(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if verdict.Valid {
		t.Errorf("verdict.Valid = true, want false for unknown token")
	}
}

func TestRevokeAllForUser_InvalidatesEverything(t *testing.T) {
	b, _, inst := newTestBroker(t)

	tok, err := b.Connect(context.Background(), *inst, inst.Owner)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := b.RevokeAllForUser(context.Background(), inst.Owner); err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}

	verdict, err := b.Validate(context.Background(), tok.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if verdict.Valid {
		t.Errorf("verdict.Valid = true after RevokeAllForUser, want false")
	}
}
