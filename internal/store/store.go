// Package store provides SQLite-based durable storage for the control
// plane (C1). Uses WAL mode for concurrent reads and crash-safe writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tunnelnet/controlplane/internal/domain"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every CRUD
// method below run unchanged inside or outside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a SQLite connection with WAL mode and migrations. Implements
// domain.Store.
type DB struct {
	conn *sql.DB
	q    queryer
}

// Open creates or opens the SQLite database at dir/state.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite is single-writer
	conn.SetMaxIdleConns(1)

	d := &DB{conn: conn, q: conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.conn.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL DEFAULT '',
			plan          TEXT NOT NULL DEFAULT 'trial',
			plan_expires  INTEGER,
			is_admin      BOOLEAN NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id               TEXT PRIMARY KEY,
			owner            TEXT NOT NULL,
			name             TEXT NOT NULL,
			local_port       INTEGER NOT NULL,
			region           TEXT NOT NULL DEFAULT '',
			preferred_host   TEXT NOT NULL DEFAULT '',
			assigned_relay   TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'inactive',
			status_reason    TEXT NOT NULL DEFAULT '',
			tunnel_connected BOOLEAN NOT NULL DEFAULT 0,
			public_url       TEXT NOT NULL DEFAULT '',
			remote_port      INTEGER NOT NULL DEFAULT 0,
			current_token    TEXT NOT NULL DEFAULT '',
			token_expires_at INTEGER,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_owner ON instances(owner)`,
		`CREATE TABLE IF NOT EXISTS tunnel_tokens (
			token      TEXT PRIMARY KEY,
			instance   TEXT NOT NULL,
			user       TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_instance ON tunnel_tokens(instance)`,
		`CREATE TABLE IF NOT EXISTS health_samples (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			instance            TEXT NOT NULL,
			ts                  INTEGER NOT NULL,
			vscode_responsive   BOOLEAN,
			last_activity_epoch INTEGER,
			cpu_pct             REAL,
			mem_bytes           INTEGER,
			has_code_server     BOOLEAN
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_instance_ts ON health_samples(instance, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS status_history (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			instance TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			status   TEXT NOT NULL,
			reason   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_instance_ts ON status_history(instance, ts)`,
		`CREATE TABLE IF NOT EXISTS relays (
			id                TEXT PRIMARY KEY,
			host              TEXT NOT NULL,
			port              INTEGER NOT NULL,
			location          TEXT NOT NULL DEFAULT '',
			max_tunnels       INTEGER NOT NULL DEFAULT 0,
			max_bw_mbps       REAL NOT NULL DEFAULT 0,
			current_load      INTEGER NOT NULL DEFAULT 0,
			current_bw_mbps   REAL NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'active',
			last_health_check INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token      TEXT PRIMARY KEY,
			user       TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_user ON refresh_tokens(user)`,
	}

	for _, m := range migrations {
		if _, err := d.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Transaction executes fn against a store bound to a single SQL
// transaction; commits on a nil return, rolls back otherwise.
func (d *DB) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	sqlTx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrUnavailable, err)
	}

	txDB := &DB{conn: d.conn, q: sqlTx}
	if err := fn(txDB); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixToTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
