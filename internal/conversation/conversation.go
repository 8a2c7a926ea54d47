package conversation

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/rokuon/internal/metrics"
)

// StreamStarter opens a capture stream for a user.
type StreamStarter interface {
	Start(userID string) (bool, error)
}

// Conversation routes capture events through a TurnBuffer into a Pipeline.
type Conversation struct {
	turns    *TurnBuffer
	pipeline *Pipeline
	streams  StreamStarter
	metrics  *metrics.Metrics
}

func New(turns *TurnBuffer, pipeline *Pipeline, m *metrics.Metrics) *Conversation {
	if m == nil {
		m = metrics.Noop()
	}
	return &Conversation{turns: turns, pipeline: pipeline, metrics: m}
}

// Attach sets the stream set used to capture the turn owner.
func (c *Conversation) Attach(streams StreamStarter) {
	c.streams = streams
}

func (c *Conversation) HandleSpeechStart(userID string) {
	if !c.turns.Begin(userID) {
		return
	}
	if _, err := c.streams.Start(userID); err != nil {
		slog.Debug("could not open stream for turn owner", "user_id", userID, "error", err)
		c.turns.End(userID)
	}
}

func (c *Conversation) Sink(userID string, pcm []byte) {
	c.turns.Append(userID, pcm)
}

func (c *Conversation) HandleStreamEnd(userID string) {
	turn, ok := c.turns.End(userID)
	if !ok {
		slog.Debug("utterance too short; skipping transcription", "user_id", userID)
		c.metrics.RecordTurn(context.Background(), OutcomeTooShort)
		return
	}
	c.pipeline.HandleTurn(turn)
}

func (c *Conversation) Greet(text string) {
	c.pipeline.Say(text)
}

func (c *Conversation) Close() {
	c.pipeline.Close()
}
