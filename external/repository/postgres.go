package repository

import (
	"context"
	"fmt"

	"github.com/foxseedlab/rokuon/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordingColumns = `id, guild_id, channel_id, started_at, ended_at, status, duration_ms, participant_count, byte_size, url, failure_reason, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.RecordingLog {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateRecording(ctx context.Context, input repository.CreateRecordingInput) (*repository.Recording, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO recordings (id, guild_id, channel_id, started_at, status)
		 VALUES ($1, $2, $3, $4, 'capturing')
		 RETURNING `+recordingColumns,
		input.ID, input.GuildID, input.ChannelID, input.StartedAt)
	return scanRecording(row)
}

func (r *PostgresRepository) UpdateRecording(ctx context.Context, input repository.UpdateRecordingInput) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recordings
		 SET status = $2, ended_at = $3, duration_ms = $4, participant_count = $5,
		     byte_size = $6, url = $7, failure_reason = $8, updated_at = NOW()
		 WHERE id = $1`,
		input.ID, string(input.Status), input.EndedAt, input.DurationMs, input.ParticipantCount,
		input.ByteSize, input.URL, input.FailureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recording %s not found", input.ID)
	}
	return nil
}

func (r *PostgresRepository) ListRecordings(ctx context.Context, guildID string, limit int) ([]*repository.Recording, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE guild_id = $1 AND status = 'uploaded'
		 ORDER BY started_at DESC
		 LIMIT $2`,
		guildID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*repository.Recording, error) {
		return scanRecording(row)
	})
}

func (r *PostgresRepository) FailUnfinishedRecordings(ctx context.Context, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recordings
		 SET status = 'failed', failure_reason = $1, ended_at = COALESCE(ended_at, NOW()), updated_at = NOW()
		 WHERE status IN ('capturing', 'converting', 'uploading')`,
		reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecording(row pgx.Row) (*repository.Recording, error) {
	var rec repository.Recording
	var status string
	if err := row.Scan(&rec.ID, &rec.GuildID, &rec.ChannelID, &rec.StartedAt, &rec.EndedAt, &status,
		&rec.DurationMs, &rec.ParticipantCount, &rec.ByteSize, &rec.URL, &rec.FailureReason,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = repository.RecordingStatus(status)
	return &rec, nil
}
