package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// SaveRefreshToken inserts a refresh token row.
func (d *DB) SaveRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.Unix())
	return err
}

// GetRefreshToken retrieves a refresh token's owning user and expiry.
func (d *DB) GetRefreshToken(ctx context.Context, token string) (userID string, expiresAt time.Time, err error) {
	var exp int64
	row := d.q.QueryRowContext(ctx, `SELECT user, expires_at FROM refresh_tokens WHERE token = ?`, token)
	if err := row.Scan(&userID, &exp); err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, domain.ErrTokenNotFound
		}
		return "", time.Time{}, err
	}
	return userID, time.Unix(exp, 0).UTC(), nil
}

// DeleteRefreshToken revokes a single refresh token (logout).
func (d *DB) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := d.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	return err
}

// DeleteUserRefreshTokens revokes all of a user's refresh tokens (logout-all).
func (d *DB) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := d.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user = ?`, userID)
	return err
}
