package database

import (
	"context"
	"fmt"
	"log/slog"
)

// migrations are applied in order; each runs once and is recorded in
// schema_migrations.
var migrations = []struct {
	version int
	sql     string
}{
	{1, `CREATE TABLE IF NOT EXISTS progress_records (
		learner_id       TEXT PRIMARY KEY,
		cursor_lesson_id TEXT NOT NULL,
		completed_count  INTEGER NOT NULL DEFAULT 0,
		data             JSONB NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{2, `CREATE INDEX IF NOT EXISTS idx_progress_records_updated ON progress_records (updated_at DESC)`},
	{3, `CREATE TABLE IF NOT EXISTS progress_events (
		id         BIGSERIAL PRIMARY KEY,
		learner_id TEXT NOT NULL,
		lesson_id  TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{4, `CREATE INDEX IF NOT EXISTS idx_progress_events_learner ON progress_events (learner_id, id)`},
}

// Migrate brings the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := db.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
		slog.Info("migration applied", "version", m.version)
	}
	return nil
}
