package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/maistro/internal/config"
	_ "modernc.org/sqlite"
)

// Store keeps execution history in SQLite.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// The gateway and `maistro run` may write concurrently.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id              TEXT PRIMARY KEY,
			config_id       TEXT NOT NULL,
			config_name     TEXT NOT NULL DEFAULT '',
			parent_id       TEXT,
			session_name    TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'running',
			error           TEXT,
			total_steps     INTEGER NOT NULL DEFAULT 0,
			completed_steps INTEGER NOT NULL DEFAULT 0,
			started_at      DATETIME NOT NULL,
			finished_at     DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_config ON executions(config_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
