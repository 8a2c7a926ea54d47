package repository

import (
	"context"
	"time"
)

type CreateRecordingInput struct {
	ID        string
	GuildID   string
	ChannelID string
	StartedAt time.Time
}

// UpdateRecordingInput overwrites the mutable columns of one recording.
type UpdateRecordingInput struct {
	ID               string
	Status           RecordingStatus
	EndedAt          *time.Time
	DurationMs       int64
	ParticipantCount int
	ByteSize         int64
	URL              string
	FailureReason    string
}

type RecordingLog interface {
	CreateRecording(ctx context.Context, input CreateRecordingInput) (*Recording, error)
	UpdateRecording(ctx context.Context, input UpdateRecordingInput) error
	// ListRecordings returns the guild's uploaded recordings, newest first.
	ListRecordings(ctx context.Context, guildID string, limit int) ([]*Recording, error)
	// FailUnfinishedRecordings marks recordings left non-terminal by a previous
	// process as failed and returns how many were touched.
	FailUnfinishedRecordings(ctx context.Context, reason string) (int64, error)
}
