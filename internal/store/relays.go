package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// RelayUpsert inserts or updates a relay's registration/load row.
func (d *DB) RelayUpsert(ctx context.Context, r domain.Relay) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO relays (id, host, port, location, max_tunnels, max_bw_mbps, current_load,
			current_bw_mbps, status, last_health_check)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			host=excluded.host, port=excluded.port, location=excluded.location,
			max_tunnels=excluded.max_tunnels, max_bw_mbps=excluded.max_bw_mbps,
			current_load=excluded.current_load, current_bw_mbps=excluded.current_bw_mbps,
			status=excluded.status, last_health_check=excluded.last_health_check`,
		r.ID, r.Host, r.Port, r.Location, r.MaxTunnels, r.MaxBandwidthMbps, r.CurrentLoad,
		r.CurrentBWMbps, string(r.Status), nullableUnix(&r.LastHealthCheck),
	)
	return err
}

// RelaySetStatus updates just a relay's health status.
func (d *DB) RelaySetStatus(ctx context.Context, id string, status domain.RelayStatus) error {
	result, err := d.q.ExecContext(ctx,
		`UPDATE relays SET status = ?, last_health_check = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrRelayNotFound
	}
	return nil
}

// ListRelays returns every registered relay.
func (d *DB) ListRelays(ctx context.Context) ([]domain.Relay, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT id, host, port, location, max_tunnels, max_bw_mbps, current_load, current_bw_mbps,
			status, last_health_check FROM relays ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Relay
	for rows.Next() {
		var r domain.Relay
		var status string
		var lastCheck sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Host, &r.Port, &r.Location, &r.MaxTunnels, &r.MaxBandwidthMbps,
			&r.CurrentLoad, &r.CurrentBWMbps, &status, &lastCheck); err != nil {
			return nil, err
		}
		r.Status = domain.RelayStatus(status)
		if t := unixToTimePtr(lastCheck); t != nil {
			r.LastHealthCheck = *t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountActiveTunnels counts system-wide connected instances (for fleet
// admission, §4.7).
func (d *DB) CountActiveTunnels(ctx context.Context) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE tunnel_connected = 1`).Scan(&n)
	return n, err
}

// CountUserActiveTunnels counts a single user's connected instances (for
// per-user quota, §4.7/I5).
func (d *DB) CountUserActiveTunnels(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instances WHERE owner = ? AND tunnel_connected = 1`, userID).Scan(&n)
	return n, err
}
