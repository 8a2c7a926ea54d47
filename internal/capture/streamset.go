package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/discord"
	"golang.org/x/sync/errgroup"
)

var ErrStreamSetClosed = errors.New("stream set is closed")

// StreamSet owns the SpeakerStreams of one session, at most one per user.
type StreamSet struct {
	conn       discord.VoiceConnection
	newDecoder audio.DecoderFactory
	sink       Sink
	cfg        StreamConfig

	// OnStreamStart and OnStreamEnd are optional observers.
	OnStreamStart func(userID string)
	OnStreamEnd   func(userID string)

	mu      sync.RWMutex
	streams map[string]*SpeakerStream
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewStreamSet(conn discord.VoiceConnection, newDecoder audio.DecoderFactory, sink Sink, cfg StreamConfig) *StreamSet {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamSet{
		conn:       conn,
		newDecoder: newDecoder,
		sink:       sink,
		cfg:        cfg,
		streams:    make(map[string]*SpeakerStream),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start opens a stream for userID unless one is already running. It reports
// whether a new stream was created.
func (s *StreamSet) Start(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStreamSetClosed
	}
	if _, exists := s.streams[userID]; exists {
		return false, nil
	}
	dec, err := s.newDecoder()
	if err != nil {
		return false, fmt.Errorf("create decoder for %s: %w", userID, err)
	}
	stream := newSpeakerStream(userID, s.conn.Subscribe(userID), dec, s.sink, s.cfg)
	s.streams[userID] = stream
	if s.OnStreamStart != nil {
		s.OnStreamStart(userID)
	}
	stream.run(s.ctx, func() { s.remove(stream) })
	return true, nil
}

func (s *StreamSet) remove(stream *SpeakerStream) {
	s.mu.Lock()
	removed := false
	if s.streams[stream.userID] == stream {
		delete(s.streams, stream.userID)
		removed = true
	}
	onEnd := s.OnStreamEnd
	s.mu.Unlock()
	if removed && onEnd != nil {
		onEnd(stream.userID)
	}
}

func (s *StreamSet) Active(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.streams[userID]
	return ok
}

func (s *StreamSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// StopAll refuses new streams, stops every running stream and waits for all
// of them to exit. No sink call happens after StopAll returns.
func (s *StreamSet) StopAll() {
	s.mu.Lock()
	s.closed = true
	running := make([]*SpeakerStream, 0, len(s.streams))
	for _, stream := range s.streams {
		running = append(running, stream)
	}
	s.mu.Unlock()

	s.cancel()
	var g errgroup.Group
	for _, stream := range running {
		g.Go(func() error {
			stream.Stop()
			return nil
		})
	}
	_ = g.Wait()
}
