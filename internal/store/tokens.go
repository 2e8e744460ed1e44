package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// SaveToken upserts a tunnel token row.
func (d *DB) SaveToken(ctx context.Context, t domain.TunnelToken) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO tunnel_tokens (token, instance, user, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET instance=excluded.instance, user=excluded.user, expires_at=excluded.expires_at`,
		t.Token, t.Instance, t.User, t.ExpiresAt.Unix(),
	)
	return err
}

// GetToken retrieves a tunnel token by value.
func (d *DB) GetToken(ctx context.Context, token string) (*domain.TunnelToken, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT token, instance, user, expires_at FROM tunnel_tokens WHERE token = ?`, token)

	var t domain.TunnelToken
	var expiresAt int64
	err := row.Scan(&t.Token, &t.Instance, &t.User, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &t, nil
}

// DeleteToken removes a tunnel token; deleting a token that doesn't
// exist is not an error (best-effort revocation, §4.5).
func (d *DB) DeleteToken(ctx context.Context, token string) error {
	_, err := d.q.ExecContext(ctx, `DELETE FROM tunnel_tokens WHERE token = ?`, token)
	return err
}

// DeleteUserTokens removes all tunnel tokens belonging to a user
// (logout-all).
func (d *DB) DeleteUserTokens(ctx context.Context, userID string) error {
	_, err := d.q.ExecContext(ctx, `DELETE FROM tunnel_tokens WHERE user = ?`, userID)
	return err
}

// DeleteExpiredTokens removes tunnel tokens past expiry. Used by the
// sweeper's token reaper (§4.9).
func (d *DB) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.q.ExecContext(ctx, `DELETE FROM tunnel_tokens WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return n, nil
}
