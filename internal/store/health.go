package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// SaveHealthSample appends a health sample row.
func (d *DB) SaveHealthSample(ctx context.Context, s domain.HealthSample) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO health_samples (instance, ts, vscode_responsive, last_activity_epoch, cpu_pct, mem_bytes, has_code_server)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Instance, s.TS.Unix(), s.VSCodeResponsive, s.LastActivityEpoch, s.CPUPercent, s.MemBytes, s.HasCodeServer,
	)
	return err
}

// GetLatestHealthSampleByInstance returns the most recent sample, or nil
// with a nil error if none exist.
func (d *DB) GetLatestHealthSampleByInstance(ctx context.Context, instanceID string) (*domain.HealthSample, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT instance, ts, vscode_responsive, last_activity_epoch, cpu_pct, mem_bytes, has_code_server
		 FROM health_samples WHERE instance = ? ORDER BY ts DESC LIMIT 1`, instanceID)

	var s domain.HealthSample
	var ts int64
	err := row.Scan(&s.Instance, &ts, &s.VSCodeResponsive, &s.LastActivityEpoch, &s.CPUPercent, &s.MemBytes, &s.HasCodeServer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.TS = time.Unix(ts, 0).UTC()
	return &s, nil
}

// AppendStatusHistory appends a status transition entry (I6 monotone in ts).
func (d *DB) AppendStatusHistory(ctx context.Context, instanceID string, status domain.Status, reason string) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO status_history (instance, ts, status, reason) VALUES (?, ?, ?, ?)`,
		instanceID, time.Now().UTC().Unix(), string(status), reason,
	)
	return err
}

// ListStatusHistory returns up to limit most-recent entries, newest first.
func (d *DB) ListStatusHistory(ctx context.Context, instanceID string, limit int) ([]domain.StatusHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.q.QueryContext(ctx,
		`SELECT instance, ts, status, reason FROM status_history
		 WHERE instance = ? ORDER BY ts DESC LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		var ts int64
		if err := rows.Scan(&e.Instance, &ts, &e.Status, &e.Reason); err != nil {
			return nil, err
		}
		e.TS = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
