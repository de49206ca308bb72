package assets

import (
	"context"
	"fmt"
	"time"
)

// migrations are applied in order; index i brings the schema to version i+1.
var migrations = []string{
	`CREATE TABLE jobs (
		subscription_key TEXT PRIMARY KEY,
		task_uuid TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		image_count INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT 'pending',
		statuses TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		task_uuid TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		files TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_assets_task ON assets(task_uuid)`,
}

// migrate brings the schema up to date and returns the resulting version.
func (s *Store) migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("check schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return version, err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return version, fmt.Errorf("migrate to v%d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return version, fmt.Errorf("record v%d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return version, err
		}
		version = i + 1
	}
	return version, nil
}
