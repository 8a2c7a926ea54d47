package repository

import "time"

type RecordingStatus string

const (
	RecordingStatusCapturing  RecordingStatus = "capturing"
	RecordingStatusConverting RecordingStatus = "converting"
	RecordingStatusUploading  RecordingStatus = "uploading"
	RecordingStatusUploaded   RecordingStatus = "uploaded"
	RecordingStatusFailed     RecordingStatus = "failed"
	RecordingStatusDiscarded  RecordingStatus = "discarded"
)

func (s RecordingStatus) Terminal() bool {
	switch s {
	case RecordingStatusUploaded, RecordingStatusFailed, RecordingStatusDiscarded:
		return true
	default:
		return false
	}
}

type Recording struct {
	ID               string
	GuildID          string
	ChannelID        string
	StartedAt        time.Time
	EndedAt          *time.Time
	Status           RecordingStatus
	DurationMs       int64
	ParticipantCount int
	ByteSize         int64
	URL              string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
