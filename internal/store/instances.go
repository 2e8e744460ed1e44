package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// CreateInstance inserts a new instance row, defaulting status to
// inactive unless the caller already set one.
func (d *DB) CreateInstance(ctx context.Context, inst domain.Instance) (*domain.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.Status == "" {
		inst.Status = domain.StatusInactive
	}
	now := time.Now().UTC()
	inst.CreatedAt, inst.UpdatedAt = now, now

	_, err := d.q.ExecContext(ctx,
		`INSERT INTO instances (id, owner, name, local_port, region, preferred_host,
			assigned_relay, status, status_reason, tunnel_connected, public_url, remote_port,
			current_token, token_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Owner, inst.Name, inst.LocalPort, string(inst.Region), inst.PreferredHost,
		inst.AssignedRelay, string(inst.Status), inst.StatusReason, inst.TunnelConnected,
		inst.PublicURL, inst.RemotePort, inst.CurrentToken, nullableUnix(inst.TokenExpiresAt),
		inst.CreatedAt.Unix(), inst.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

const instanceColumns = `id, owner, name, local_port, region, preferred_host, assigned_relay,
	status, status_reason, tunnel_connected, public_url, remote_port, current_token,
	token_expires_at, created_at, updated_at`

// GetInstance retrieves a single instance by id.
func (d *DB) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	row := d.q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

// ListInstancesByUser returns all of a user's instances, newest first.
func (d *DB) ListInstancesByUser(ctx context.Context, userID string) ([]domain.Instance, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE owner = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// ListConnectedInstances returns every instance currently marked
// tunnel_connected, across all owners — used by the sweeper's instance
// demoter to find heartbeat-timeout candidates without per-user scoping.
func (d *DB) ListConnectedInstances(ctx context.Context) ([]domain.Instance, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE tunnel_connected = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// ListInstancesByStatus returns every instance in the given status,
// across all owners — used by the sweeper to find instances stuck past
// a status-specific timeout (e.g. "starting" past the connect timeout).
func (d *DB) ListInstancesByStatus(ctx context.Context, status domain.Status) ([]domain.Instance, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// UpdateInstance applies a partial, merge-write patch and returns the
// resulting row. Building the SET clause dynamically avoids clobbering
// fields the caller didn't touch, preserving I2/I3 under concurrent
// patches (the patch shape itself, constructed in internal/domain, is
// what actually guarantees the invariant; this just applies it).
func (d *DB) UpdateInstance(ctx context.Context, id string, patch domain.InstancePatch) (*domain.Instance, error) {
	var sets []string
	var args []any

	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.StatusReason != nil {
		set("status_reason", *patch.StatusReason)
	}
	if patch.AssignedRelay != nil {
		set("assigned_relay", *patch.AssignedRelay)
	}
	if patch.ClearAssignedRelay {
		set("assigned_relay", "")
	}
	if patch.TunnelConnected != nil {
		set("tunnel_connected", *patch.TunnelConnected)
	}
	if patch.PublicURL != nil {
		set("public_url", *patch.PublicURL)
	}
	if patch.ClearPublicURL {
		set("public_url", "")
	}
	if patch.RemotePort != nil {
		set("remote_port", *patch.RemotePort)
	}
	if patch.ClearRemotePort {
		set("remote_port", 0)
	}
	if patch.CurrentToken != nil {
		set("current_token", *patch.CurrentToken)
	}
	if patch.ClearCurrentToken {
		set("current_token", "")
	}
	if patch.TokenExpiresAt != nil {
		set("token_expires_at", patch.TokenExpiresAt.Unix())
	}
	if patch.ClearTokenExpiresAt {
		set("token_expires_at", nil)
	}
	set("updated_at", time.Now().UTC().Unix())

	args = append(args, id)
	query := `UPDATE instances SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	result, err := d.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, domain.ErrInstanceNotFound
	}
	return d.GetInstance(ctx, id)
}

// DeleteInstance removes an instance row.
func (d *DB) DeleteInstance(ctx context.Context, id string) error {
	result, err := d.q.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}

func scanInstance(s scanner) (*domain.Instance, error) {
	var inst domain.Instance
	var region, status string
	var tokenExpires sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(&inst.ID, &inst.Owner, &inst.Name, &inst.LocalPort, &region, &inst.PreferredHost,
		&inst.AssignedRelay, &status, &inst.StatusReason, &inst.TunnelConnected, &inst.PublicURL,
		&inst.RemotePort, &inst.CurrentToken, &tokenExpires, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}

	inst.Region = domain.Region(region)
	inst.Status = domain.Status(status)
	inst.TokenExpiresAt = unixToTimePtr(tokenExpires)
	inst.CreatedAt = time.Unix(createdAt, 0).UTC()
	inst.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &inst, nil
}
