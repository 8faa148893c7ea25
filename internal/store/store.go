package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/legionhq/legiond/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS legions (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			max_minions INTEGER NOT NULL DEFAULT 20,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS minions (
			id           TEXT PRIMARY KEY,
			legion_id    TEXT NOT NULL REFERENCES legions(id),
			name         TEXT NOT NULL,
			role         TEXT,
			state        TEXT NOT NULL DEFAULT 'created',
			parent_id    TEXT,
			horde_id     TEXT NOT NULL,
			is_overseer  BOOLEAN DEFAULT FALSE,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_active  DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_minions_name ON minions(legion_id, name)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id          TEXT PRIMARY KEY,
			legion_id   TEXT NOT NULL REFERENCES legions(id),
			name        TEXT NOT NULL,
			description TEXT,
			purpose     TEXT,
			creator     TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_name ON channels(legion_id, name)`,
		`CREATE TABLE IF NOT EXISTS comms (
			id          TEXT PRIMARY KEY,
			legion_id   TEXT NOT NULL REFERENCES legions(id),
			source      TEXT NOT NULL,
			destination TEXT NOT NULL,
			comm_type   TEXT NOT NULL,
			content     TEXT NOT NULL,
			reply_to    TEXT,
			hidden      BOOLEAN DEFAULT FALSE,
			tags        TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comms_legion ON comms(legion_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name        TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_comms (
			id           TEXT PRIMARY KEY,
			legion_id    TEXT NOT NULL REFERENCES legions(id),
			name         TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			target       TEXT NOT NULL,
			comm_type    TEXT NOT NULL DEFAULT 'task',
			content      TEXT NOT NULL,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_next_run ON scheduled_comms(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
