package webhook

import (
	"context"
	"time"
)

// RecordingPayload is posted once per recording that reached a terminal status.
type RecordingPayload struct {
	RecordingID      string    `json:"recording_id"`
	GuildID          string    `json:"guild_id"`
	GuildName        string    `json:"guild_name"`
	ChannelID        string    `json:"channel_id"`
	ChannelName      string    `json:"channel_name"`
	Status           string    `json:"status"`
	URL              string    `json:"url,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationMs       int64     `json:"duration_ms"`
	ParticipantCount int       `json:"participant_count"`
	ByteSize         int64     `json:"byte_size"`
}

type Sender interface {
	SendRecording(ctx context.Context, payload RecordingPayload) error
}
