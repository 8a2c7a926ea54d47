package recording

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

const mailboxSize = 256

type chunk struct {
	userID string
	pcm    []byte
}

type Summary struct {
	Bytes        int64
	Participants []string
	WriteErr     error
}

// Sink appends every speaker's PCM to one raw file in arrival order. Writers
// post to a mailbox; a single goroutine owns the file.
type Sink struct {
	path string

	mu      sync.RWMutex
	closed  bool
	mailbox chan chunk

	participantsMu sync.Mutex
	participants   map[string]struct{}
	order          []string

	done     chan struct{}
	bytes    int64
	writeErr error
}

func NewSink(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create raw recording file: %w", err)
	}
	s := &Sink{
		path:         path,
		mailbox:      make(chan chunk, mailboxSize),
		participants: make(map[string]struct{}),
		done:         make(chan struct{}),
	}
	go s.drain(f)
	return s, nil
}

func (s *Sink) Path() string {
	return s.path
}

// AddParticipant records a speaker even if none of their audio is written.
func (s *Sink) AddParticipant(userID string) {
	s.participantsMu.Lock()
	defer s.participantsMu.Unlock()
	if _, ok := s.participants[userID]; ok {
		return
	}
	s.participants[userID] = struct{}{}
	s.order = append(s.order, userID)
}

// Write queues pcm for the file. Writes after Close are dropped.
func (s *Sink) Write(userID string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.AddParticipant(userID)
	s.mailbox <- chunk{userID: userID, pcm: pcm}
}

func (s *Sink) drain(f *os.File) {
	defer close(s.done)
	w := bufio.NewWriter(f)
	for c := range s.mailbox {
		if s.writeErr != nil {
			continue
		}
		n, err := w.Write(c.pcm)
		s.bytes += int64(n)
		if err != nil {
			s.writeErr = err
			slog.Error("failed to append to raw recording", "path", s.path, "error", err)
		}
	}
	if err := w.Flush(); err != nil && s.writeErr == nil {
		s.writeErr = err
	}
	if err := f.Close(); err != nil && s.writeErr == nil {
		s.writeErr = err
	}
}

// Close stops accepting writes, flushes everything queued and closes the file.
func (s *Sink) Close() Summary {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.mailbox)
	}
	s.mu.Unlock()

	<-s.done
	s.participantsMu.Lock()
	participants := append([]string(nil), s.order...)
	s.participantsMu.Unlock()
	return Summary{
		Bytes:        s.bytes,
		Participants: participants,
		WriteErr:     s.writeErr,
	}
}
