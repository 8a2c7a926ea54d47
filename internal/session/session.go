package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/rokuon/internal/capture"
	"github.com/foxseedlab/rokuon/internal/conversation"
	"github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/recording"
)

var (
	ErrAlreadyActive = errors.New("a session is already active in this guild")
	ErrNotActive     = errors.New("no active session in this guild")
)

// ConnectError means the voice channel could not be joined. The guild slot
// has been released by the time it is returned.
type ConnectError struct {
	GuildID   string
	ChannelID string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to voice channel %s in guild %s: %v", e.ChannelID, e.GuildID, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
	ModeConversation
)

func (m Mode) String() string {
	switch m {
	case ModeRecording:
		return "recording"
	case ModeConversation:
		return "conversation"
	default:
		return "idle"
	}
}

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type StopReason string

const (
	StopReasonManualSlash      StopReason = "manual_slash"
	StopReasonParticipantsLeft StopReason = "participants_left"
	StopReasonChannelSwitch    StopReason = "channel_switch"
	StopReasonBotRemoved       StopReason = "bot_removed"
	StopReasonConnectionLost   StopReason = "connection_lost"
	StopReasonServerClosed     StopReason = "server_closed"
	StopReasonUnknownError     StopReason = "unknown_error"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID           string
	GuildID      string
	ChannelID    string
	Mode         Mode
	State        State
	StartedAt    time.Time
	Participants int
}

type StopResult struct {
	Info
	Reason   StopReason
	Duration time.Duration
	// Set for recordings only. ByteSize is the raw byte count captured.
	ArtifactID string
	ByteSize   int64
}

// Session is one guild's voice connection and whatever consumes its audio.
// Mode never changes and participants only grow.
type Session struct {
	id        string
	guildID   string
	channelID string
	mode      Mode
	startedAt time.Time
	state     atomic.Int32

	mu             sync.Mutex
	participants   map[string]struct{}
	connectCancel  context.CancelFunc
	reconnectTimer *time.Timer
	activated      bool
	// A counted member left while joining; occupancy is re-read once Active.
	occupancyStale bool

	// Assigned while connecting, read-only afterwards.
	conn     discord.VoiceConnection
	streams  *capture.StreamSet
	sink     *recording.Sink
	artifact *recording.Artifact
	turns    *conversation.TurnBuffer
	convo    *conversation.Conversation
}

func newSession(id, guildID, channelID string, mode Mode, startedAt time.Time) *Session {
	s := &Session{
		id:           id,
		guildID:      guildID,
		channelID:    channelID,
		mode:         mode,
		startedAt:    startedAt,
		participants: make(map[string]struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) addParticipant(userID string) {
	s.mu.Lock()
	s.participants[userID] = struct{}{}
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.AddParticipant(userID)
	}
}

func (s *Session) participantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// markOccupancyStale reports false once the session has gone Active, in which
// case the caller handles the change itself.
func (s *Session) markOccupancyStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated {
		return false
	}
	s.occupancyStale = true
	return true
}

func (s *Session) setConnectCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectCancel = cancel
}

func (s *Session) cancelConnect() {
	s.mu.Lock()
	cancel := s.connectCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) stopReconnectTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) info() Info {
	return Info{
		ID:           s.id,
		GuildID:      s.guildID,
		ChannelID:    s.channelID,
		Mode:         s.mode,
		State:        s.State(),
		StartedAt:    s.startedAt,
		Participants: s.participantCount(),
	}
}
