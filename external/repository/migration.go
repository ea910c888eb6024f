package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('running', 'completed', 'interrupted', 'failed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		target TEXT NOT NULL,
		backend TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status session_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		segment_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_offset DOUBLE PRECISION NOT NULL,
		end_offset DOUBLE PRECISION NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, segment_index)
	)`,
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func RunMigration(ctx context.Context, db execer) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
