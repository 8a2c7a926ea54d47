package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/rokuon/internal/repository"
)

var ErrInvalidTransition = errors.New("invalid artifact status transition")

var allowedTransitions = map[repository.RecordingStatus][]repository.RecordingStatus{
	repository.RecordingStatusCapturing: {
		repository.RecordingStatusConverting,
		repository.RecordingStatusDiscarded,
		repository.RecordingStatusFailed,
	},
	repository.RecordingStatusConverting: {
		repository.RecordingStatusUploading,
		repository.RecordingStatusFailed,
	},
	repository.RecordingStatusUploading: {
		repository.RecordingStatusUploaded,
		repository.RecordingStatusFailed,
	},
}

// Artifact is one recording session's output as it moves from raw capture to
// an uploaded file. Status only moves forward.
type Artifact struct {
	ID               string
	GuildID          string
	ChannelID        string
	GuildName        string
	ChannelName      string
	RawPath          string
	EncodedPath      string
	StartedAt        time.Time
	EndedAt          time.Time
	DurationMs       int64
	ParticipantCount int
	ByteSize         int64
	Status           repository.RecordingStatus
	URL              string
	FailureReason    string
}

func (a *Artifact) Advance(to repository.RecordingStatus) error {
	for _, next := range allowedTransitions[a.Status] {
		if next == to {
			a.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
}

func (a *Artifact) fail(reason string) error {
	if err := a.Advance(repository.RecordingStatusFailed); err != nil {
		return err
	}
	a.FailureReason = reason
	return nil
}

func (a *Artifact) Duration() time.Duration {
	return time.Duration(a.DurationMs) * time.Millisecond
}

func (a *Artifact) updateInput() repository.UpdateRecordingInput {
	input := repository.UpdateRecordingInput{
		ID:               a.ID,
		Status:           a.Status,
		DurationMs:       a.DurationMs,
		ParticipantCount: a.ParticipantCount,
		ByteSize:         a.ByteSize,
		URL:              a.URL,
		FailureReason:    a.FailureReason,
	}
	if !a.EndedAt.IsZero() {
		ended := a.EndedAt
		input.EndedAt = &ended
	}
	return input
}
