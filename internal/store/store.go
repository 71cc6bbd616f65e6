// Package store manages the license server's durable state backed by
// SQLite. It persists license records, payment providers, and webhook
// settings.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection shared by the license registry and the
// payment provider store.
type DB struct {
	db *sqlx.DB
}

// Open creates the store. Pass empty string for an in-memory database
// (tests).
func Open(dataDir string) (*DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "uvdm.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite doesn't support concurrent writers; a single connection
	// serializes every read-modify-write so two concurrent activations of
	// the same key cannot interleave.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Conn exposes the underlying connection for package-internal consumers
// (registry, provider store).
func (s *DB) Conn() *sqlx.DB {
	return s.db
}

// PingContext reports whether the database is reachable.
func (s *DB) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	license_key     TEXT PRIMARY KEY,
	license_type    TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	activated_at    TIMESTAMP,
	deactivated_at  TIMESTAMP,
	expiry_date     TIMESTAMP,
	active          INTEGER NOT NULL DEFAULT 0,
	machine_id_hash TEXT NOT NULL DEFAULT '',
	features        TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS payment_providers (
	id            TEXT PRIMARY KEY,
	provider_key  TEXT NOT NULL UNIQUE,
	provider_name TEXT NOT NULL,
	config        TEXT NOT NULL DEFAULT '{}',
	enabled       INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_settings (
	id             TEXT PRIMARY KEY,
	provider_id    TEXT NOT NULL REFERENCES payment_providers(id) ON DELETE CASCADE,
	webhook_url    TEXT NOT NULL DEFAULT '',
	webhook_secret TEXT NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webhook_settings_provider
	ON webhook_settings(provider_id);
`
	_, err := s.db.Exec(schema)
	return err
}
