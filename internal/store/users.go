package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// CreateUserAndAssignTrial inserts a new user on the trial plan in one
// statement; a unique-email conflict surfaces as ErrUserExists.
func (d *DB) CreateUserAndAssignTrial(ctx context.Context, email, passwordHash, name string) (*domain.User, error) {
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Plan:         domain.PlanTrial,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := d.q.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, plan, plan_expires, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Plan, nil, false, u.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConflict(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by id.
func (d *DB) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name, plan, plan_expires, is_admin, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name, plan, plan_expires, is_admin, created_at
		 FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UpdatePlan sets a user's plan and expiry in one statement.
func (d *DB) UpdatePlan(ctx context.Context, userID string, plan domain.Plan, expiresAt *time.Time) error {
	result, err := d.q.ExecContext(ctx,
		`UPDATE users SET plan = ?, plan_expires = ? WHERE id = ?`,
		plan, nullableUnix(expiresAt), userID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(s scanner) (*domain.User, error) {
	var u domain.User
	var planExpires sql.NullInt64
	var createdAt int64

	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Plan, &planExpires, &u.IsAdmin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	u.PlanExpiresAt = unixToTimePtr(planExpires)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// isUniqueConflict reports whether err is a SQLite UNIQUE constraint
// violation. modernc.org/sqlite wraps these as generic errors with the
// driver's text, so we match on substring rather than a typed sentinel.
func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
