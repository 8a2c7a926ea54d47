package capture

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/discord"
)

// Sink receives decoded PCM for one speaker.
type Sink func(userID string, pcm []byte)

type StreamConfig struct {
	SilenceTimeout time.Duration
	OnDecodeError  audio.DecodeErrorFunc
}

// SpeakerStream pumps one user's subscription through a decoder into a sink
// until the user is silent for SilenceTimeout, the subscription closes, or
// the stream is stopped.
type SpeakerStream struct {
	userID string
	sub    discord.Subscription
	dec    audio.Decoder
	sink   Sink
	cfg    StreamConfig

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newSpeakerStream(userID string, sub discord.Subscription, dec audio.Decoder, sink Sink, cfg StreamConfig) *SpeakerStream {
	return &SpeakerStream{
		userID: userID,
		sub:    sub,
		dec:    dec,
		sink:   sink,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

func (s *SpeakerStream) UserID() string {
	return s.userID
}

func (s *SpeakerStream) run(ctx context.Context, onEnd func()) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		defer onEnd()
		defer s.sub.Close()
		for pcm := range audio.DecodeFrames(s.dec, s.frames(ctx), s.cfg.OnDecodeError) {
			s.sink(s.userID, pcm)
		}
	}()
}

// frames yields subscription frames and ends on silence, closure or cancel.
func (s *SpeakerStream) frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		silence := time.NewTimer(s.cfg.SilenceTimeout)
		defer silence.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-silence.C:
				slog.Debug("speaker silent; ending stream", "user_id", s.userID)
				return
			case frame, ok := <-s.sub.Frames():
				if !ok {
					return
				}
				silence.Reset(s.cfg.SilenceTimeout)
				if !yield(frame) {
					return
				}
			}
		}
	}
}

// Stop cancels the stream and waits until it has delivered its last chunk.
func (s *SpeakerStream) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *SpeakerStream) Done() <-chan struct{} {
	return s.done
}
