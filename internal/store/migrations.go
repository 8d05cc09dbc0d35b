package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_key TEXT NOT NULL DEFAULT '',
		assignee_id TEXT NOT NULL DEFAULT '',
		urgency TEXT NOT NULL,
		days_late INTEGER NOT NULL DEFAULT 0,
		signal TEXT NOT NULL DEFAULT 'unknown',
		should_emit INTEGER NOT NULL,
		probability REAL NOT NULL DEFAULT 0,
		draw REAL,
		reason TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_item ON decisions(item_id, created_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_key TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_unresolved ON dead_letters(created_at) WHERE resolved_at IS NULL;

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id          TEXT PRIMARY KEY,
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		candidates  INTEGER NOT NULL,
		processed   INTEGER NOT NULL,
		emitted     INTEGER NOT NULL,
		skipped     INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		stopped     INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
