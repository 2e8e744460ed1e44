// Package tokenbroker mints, validates, and revokes tunnel tokens (C5),
// bridging the user-plane (instance connect) and the relay-plane (tunnel
// token validation).
package tokenbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/security"
)

// Broker mints/validates/revokes TunnelTokens.
type Broker struct {
	store domain.Store
	ttl   time.Duration
	now   domain.Clock
}

// New constructs a Broker. ttl is the default token lifetime (§4.5, 1h).
func New(store domain.Store, ttl time.Duration) *Broker {
	return &Broker{store: store, ttl: ttl, now: time.Now}
}

// Connect mints a fresh token for instance, atomically replacing any
// prior token: delete old row, insert new row, write both fields on the
// instance, all in one transaction (§4.5).
func (b *Broker) Connect(ctx context.Context, inst domain.Instance, userID string) (*domain.TunnelToken, error) {
	var tok *domain.TunnelToken
	err := b.store.Transaction(ctx, func(tx domain.Store) error {
		t, err := b.ConnectTx(ctx, tx, inst, userID)
		tok = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ConnectTx is Connect's logic run against an already-open transaction,
// so callers that need the token mint as part of a larger atomic FSM
// transition (e.g. the starting-transition patch) can fold it in
// without nesting transactions on a single-writer SQLite connection.
func (b *Broker) ConnectTx(ctx context.Context, tx domain.Store, inst domain.Instance, userID string) (*domain.TunnelToken, error) {
	raw, err := security.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}
	expiresAt := b.now().Add(b.ttl)
	tok := domain.TunnelToken{Token: raw, Instance: inst.ID, User: userID, ExpiresAt: expiresAt}

	if inst.CurrentToken != "" {
		if err := tx.DeleteToken(ctx, inst.CurrentToken); err != nil {
			return nil, fmt.Errorf("delete prior token: %w", err)
		}
	}
	if err := tx.SaveToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	patch := domain.InstancePatch{
		CurrentToken:   strp(tok.Token),
		TokenExpiresAt: &expiresAt,
	}
	if _, err := tx.UpdateInstance(ctx, inst.ID, patch); err != nil {
		return nil, fmt.Errorf("update instance token fields: %w", err)
	}
	return &tok, nil
}

// Validate is the relay-facing verdict endpoint (§4.5). A negative
// verdict also best-effort deletes the offending token so relays never
// see a usable-but-invalid credential again.
func (b *Broker) Validate(ctx context.Context, token string) (*domain.ValidationVerdict, error) {
	tok, err := b.store.GetToken(ctx, token)
	if err != nil {
		return &domain.ValidationVerdict{Valid: false, Message: "token not found"}, nil
	}

	if tok.Expired(b.now()) {
		_ = b.store.DeleteToken(ctx, token)
		return &domain.ValidationVerdict{Valid: false, Message: "token expired"}, nil
	}

	user, err := b.store.GetUserByID(ctx, tok.User)
	if err != nil {
		_ = b.store.DeleteToken(ctx, token)
		return &domain.ValidationVerdict{Valid: false, Message: "owning user not found"}, nil
	}
	if !user.PlanActive(b.now()) {
		_ = b.store.DeleteToken(ctx, token)
		return &domain.ValidationVerdict{Valid: false, Message: "user plan expired"}, nil
	}

	return &domain.ValidationVerdict{
		Valid:         true,
		UsageAllowed:  true,
		UserID:        user.ID,
		PlanType:      user.Plan,
		MaxConcurrent: user.Plan.MaxConcurrent(),
		InstanceID:    tok.Instance,
		Message:       "ok",
	}, nil
}

// Revoke deletes a token outright (disconnect, instance delete).
// Best-effort: deleting a token that no longer exists is not an error.
func (b *Broker) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return b.store.DeleteToken(ctx, token)
}

// RevokeAllForUser deletes every token belonging to a user (logout-all).
func (b *Broker) RevokeAllForUser(ctx context.Context, userID string) error {
	return b.store.DeleteUserTokens(ctx, userID)
}

func strp(s string) *string { return &s }
