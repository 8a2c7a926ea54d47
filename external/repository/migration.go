package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE recording_status AS ENUM ('capturing', 'converting', 'uploading', 'uploaded', 'failed', 'discarded'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS recordings (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status recording_status NOT NULL DEFAULT 'capturing',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		participant_count INTEGER NOT NULL DEFAULT 0,
		byte_size BIGINT NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_guild_started ON recordings (guild_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_unfinished ON recordings (status) WHERE status IN ('capturing', 'converting', 'uploading')`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
