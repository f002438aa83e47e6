package database

import (
	"context"
	"fmt"
)

// Migrate creates the schema if it does not exist. Camera inventory rows
// are written by the inventory service; the table is created here so a
// fresh install can run standalone.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			location    TEXT NOT NULL DEFAULT '',
			stream_url  TEXT NOT NULL,
			protocol    TEXT NOT NULL DEFAULT 'rtsp',
			username    TEXT NOT NULL DEFAULT '',
			password    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'offline',
			last_seen   TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			camera_id   TEXT NOT NULL REFERENCES cameras(id),
			status      TEXT NOT NULL DEFAULT 'inactive',
			settings    JSONB NOT NULL DEFAULT '{}',
			stats       JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_camera_id ON sessions(camera_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
