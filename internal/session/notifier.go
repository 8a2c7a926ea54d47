package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/recording"
	"github.com/foxseedlab/rokuon/internal/webhook"
)

const webhookTimeout = 15 * time.Second

// RecordingNotifier posts the outcome of every processed recording to the
// recorded channel's chat and to the configured webhook.
type RecordingNotifier struct {
	discord discord.Client
	webhook webhook.Sender
}

func NewRecordingNotifier(dc discord.Client, wh webhook.Sender) *RecordingNotifier {
	return &RecordingNotifier{discord: dc, webhook: wh}
}

func (n *RecordingNotifier) RecordingFinished(ctx context.Context, a recording.Artifact) {
	if err := n.discord.SendChannelMessage(a.ChannelID, recordingFinishedMessage(a)); err != nil {
		slog.Error("failed to post recording outcome", "artifact_id", a.ID, "channel_id", a.ChannelID, "error", err)
	}
	if n.webhook == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookTimeout)
	defer cancel()
	if err := n.webhook.SendRecording(wctx, recordingPayload(a)); err != nil {
		slog.Error("failed to send recording webhook", "artifact_id", a.ID, "error", err)
	}
}

func recordingPayload(a recording.Artifact) webhook.RecordingPayload {
	return webhook.RecordingPayload{
		RecordingID:      a.ID,
		GuildID:          a.GuildID,
		GuildName:        a.GuildName,
		ChannelID:        a.ChannelID,
		ChannelName:      a.ChannelName,
		Status:           string(a.Status),
		URL:              a.URL,
		FailureReason:    a.FailureReason,
		StartedAt:        a.StartedAt,
		EndedAt:          a.EndedAt,
		DurationMs:       a.DurationMs,
		ParticipantCount: a.ParticipantCount,
		ByteSize:         a.ByteSize,
	}
}
