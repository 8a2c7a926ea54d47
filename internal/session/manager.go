package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/capture"
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/conversation"
	"github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/metrics"
	"github.com/foxseedlab/rokuon/internal/recording"
	"github.com/foxseedlab/rokuon/internal/responder"
	"github.com/foxseedlab/rokuon/internal/speech"
	"github.com/foxseedlab/rokuon/internal/transcriber"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Manager owns every session, at most one per guild.
type Manager struct {
	cfg        *config.Config
	discord    discord.Client
	newDecoder audio.DecoderFactory
	processor  *recording.Processor
	stt        transcriber.Transcriber
	llm        responder.Responder
	tts        speech.Synthesizer
	metrics    *metrics.Metrics
	now        func() time.Time

	mu        sync.Mutex
	slots     map[string]*Session
	auto      map[string]bool
	botUserID string

	processing sync.WaitGroup
}

func NewManager(
	cfg *config.Config,
	dc discord.Client,
	newDecoder audio.DecoderFactory,
	processor *recording.Processor,
	stt transcriber.Transcriber,
	llm responder.Responder,
	tts speech.Synthesizer,
	m *metrics.Metrics,
) *Manager {
	if m == nil {
		m = metrics.Noop()
	}
	return &Manager{
		cfg:        cfg,
		discord:    dc,
		newDecoder: newDecoder,
		processor:  processor,
		stt:        stt,
		llm:        llm,
		tts:        tts,
		metrics:    m,
		now:        time.Now,
		slots:      make(map[string]*Session),
		auto:       make(map[string]bool),
	}
}

func (m *Manager) SetBotUserID(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = userID
}

func (m *Manager) isSelf(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID != "" && userID == m.botUserID
}

// shouldCountParticipant decides who counts toward channel occupancy. The bot
// itself never does; other bots only when configured.
func (m *Manager) shouldCountParticipant(userID string, isBot bool) bool {
	if m.isSelf(userID) {
		return false
	}
	if isBot && !m.cfg.DiscordCountOtherBots {
		return false
	}
	return true
}

func (m *Manager) AutoRecordEnabled(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled, ok := m.auto[guildID]; ok {
		return enabled
	}
	return m.cfg.AutoRecordEnabledAtBoot(guildID)
}

func (m *Manager) SetAutoRecord(guildID string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auto[guildID] = enabled
	slog.Info("auto-record toggled", "guild_id", guildID, "enabled", enabled)
}

func (m *Manager) lookup(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[guildID]
}

// Status reports the session holding guildID, if any.
func (m *Manager) Status(guildID string) (Info, bool) {
	s := m.lookup(guildID)
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// reserve is the only place a session enters the slot map.
func (m *Manager) reserve(guildID, channelID string, mode Mode) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.slots[guildID]; ok {
		slog.Info("session already present in guild", "guild_id", guildID, "session_id", existing.id, "state", existing.State().String())
		return nil, ErrAlreadyActive
	}
	s := newSession(uuid.NewString(), guildID, channelID, mode, m.now())
	m.slots[guildID] = s
	return s, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.slots[s.guildID] == s {
		delete(m.slots, s.guildID)
	}
	m.mu.Unlock()
	s.state.Store(int32(StateIdle))
}

// Start reserves the guild, joins channelID and begins consuming audio in
// the given mode. It returns once the session is Active.
func (m *Manager) Start(ctx context.Context, guildID, channelID string, mode Mode) (Info, error) {
	if mode != ModeRecording && mode != ModeConversation {
		return Info{}, fmt.Errorf("cannot start a session in mode %s", mode)
	}
	s, err := m.reserve(guildID, channelID, mode)
	if err != nil {
		return Info{}, err
	}
	logger := slog.With("session_id", s.id, "guild_id", guildID, "channel_id", channelID, "mode", mode.String())
	logger.Info("session reserved; joining voice channel")

	cctx, cancel := context.WithTimeout(ctx, m.cfg.VoiceConnectTimeout)
	s.setConnectCancel(cancel)
	conn, err := m.discord.JoinVoiceChannel(cctx, guildID, channelID)
	cancel()
	if err != nil {
		m.release(s)
		logger.Error("failed to join voice channel", "error", err)
		return Info{}, &ConnectError{GuildID: guildID, ChannelID: channelID, Err: err}
	}
	s.conn = conn
	if s.State() != StateConnecting {
		logger.Info("session stopped while joining; leaving channel")
		m.abandon(s)
		return Info{}, &ConnectError{GuildID: guildID, ChannelID: channelID, Err: context.Canceled}
	}

	if err := m.attach(ctx, s); err != nil {
		if derr := conn.Disconnect(); derr != nil {
			logger.Warn("failed to disconnect after setup failure", "error", derr)
		}
		m.release(s)
		logger.Error("failed to set up session", "error", err)
		return Info{}, err
	}

	if !s.transition(StateConnecting, StateActive) {
		logger.Info("session stopped while joining; leaving channel")
		m.abandon(s)
		return Info{}, &ConnectError{GuildID: guildID, ChannelID: channelID, Err: context.Canceled}
	}
	s.mu.Lock()
	s.activated = true
	recheck := s.occupancyStale
	s.mu.Unlock()
	m.metrics.SessionStarted(ctx, mode.String())
	m.seedParticipants(s)

	info := s.info()
	logger.Info("session active", "participants", info.Participants)
	m.postChannelMessage(channelID, startChannelMessage(info))
	if s.convo != nil && m.cfg.ConversationGreeting != "" {
		s.convo.Greet(m.cfg.ConversationGreeting)
	}
	if recheck {
		m.runSessionWorker(s, "occupancy_recheck", func() {
			m.recheckOccupancy(s)
		})
	}
	return info, nil
}

// attach wires the connection to the mode's consumer.
func (m *Manager) attach(ctx context.Context, s *Session) error {
	streamCfg := capture.StreamConfig{
		OnDecodeError: func(err error) {
			m.metrics.RecordDecodeError(context.Background())
			slog.Debug("dropping undecodable voice frame", "session_id", s.id, "error", err)
		},
	}

	switch s.mode {
	case ModeRecording:
		artifact, sink, err := m.processor.Begin(ctx, s.guildID, s.channelID)
		if err != nil {
			return fmt.Errorf("begin recording: %w", err)
		}
		names := m.discord.ResolveChannelNames(s.guildID, s.channelID)
		artifact.GuildName = names.GuildName
		artifact.ChannelName = names.ChannelName
		s.artifact = artifact
		s.sink = sink

		streamCfg.SilenceTimeout = m.cfg.RecordingSpeakerSilenceTimeout
		s.streams = capture.NewStreamSet(s.conn, m.newDecoder, sink.Write, streamCfg)
		s.streams.OnStreamStart = m.streamStarted
		s.streams.OnStreamEnd = m.streamEnded
		s.conn.OnSpeechStart(func(userID string) {
			defer m.recoverSession(s, "speech_start")
			if m.isSelf(userID) {
				return
			}
			s.addParticipant(userID)
			if _, err := s.streams.Start(userID); err != nil && !errors.Is(err, capture.ErrStreamSetClosed) {
				slog.Warn("failed to open speaker stream", "session_id", s.id, "user_id", userID, "error", err)
			}
		})

	case ModeConversation:
		pipeline := conversation.NewPipeline(m.stt, m.llm, m.tts, s.conn, m.metrics, conversation.PipelineConfig{
			StageTimeout: m.cfg.StageTimeout,
		})
		s.turns = conversation.NewTurnBuffer(m.cfg.ConversationMinUtterance)
		convo := conversation.New(s.turns, pipeline, m.metrics)

		streamCfg.SilenceTimeout = m.cfg.ConversationSilenceTimeout
		s.streams = capture.NewStreamSet(s.conn, m.newDecoder, convo.Sink, streamCfg)
		s.streams.OnStreamStart = m.streamStarted
		s.streams.OnStreamEnd = func(userID string) {
			m.streamEnded(userID)
			convo.HandleStreamEnd(userID)
		}
		convo.Attach(s.streams)
		s.convo = convo
		s.conn.OnSpeechStart(func(userID string) {
			defer m.recoverSession(s, "speech_start")
			if m.isSelf(userID) {
				return
			}
			s.addParticipant(userID)
			convo.HandleSpeechStart(userID)
		})
	}

	s.conn.OnStateChange(func(state discord.ConnectionState) {
		m.handleConnectionState(s, state)
	})
	return nil
}

func (m *Manager) streamStarted(string) {
	m.metrics.StreamStarted(context.Background())
}

func (m *Manager) streamEnded(string) {
	m.metrics.StreamEnded(context.Background())
}

// seedParticipants adds the members already in the channel when it was joined.
func (m *Manager) seedParticipants(s *Session) {
	members, err := m.discord.ListVoiceChannelParticipants(s.guildID, s.channelID)
	if err != nil {
		slog.Warn("failed to list voice channel participants", "session_id", s.id, "channel_id", s.channelID, "error", err)
		return
	}
	for _, p := range members {
		if m.shouldCountParticipant(p.UserID, p.IsBot) {
			s.addParticipant(p.UserID)
		}
	}
}

func (m *Manager) handleConnectionState(s *Session, state discord.ConnectionState) {
	logger := slog.With("session_id", s.id, "guild_id", s.guildID, "channel_id", s.channelID)
	switch state {
	case discord.ConnectionReconnecting:
		s.mu.Lock()
		if s.reconnectTimer == nil {
			s.reconnectTimer = time.AfterFunc(m.cfg.VoiceReconnectWindow, func() {
				defer m.recoverSession(s, "reconnect_watch")
				logger.Warn("voice connection did not recover in time", "window", m.cfg.VoiceReconnectWindow)
				m.stopSession(s, StopReasonConnectionLost)
			})
		}
		s.mu.Unlock()
		logger.Warn("voice connection interrupted; waiting for recovery", "window", m.cfg.VoiceReconnectWindow)
	case discord.ConnectionReady:
		s.stopReconnectTimer()
		logger.Info("voice connection ready")
	case discord.ConnectionDisconnected:
		logger.Warn("voice connection closed")
		m.runSessionWorker(s, "connection_watch", func() {
			m.stopSession(s, StopReasonConnectionLost)
		})
	}
}

// Stop ends the guild's session and waits until capture has fully stopped.
// A session still joining has its connect canceled instead.
func (m *Manager) Stop(guildID string, reason StopReason) (StopResult, error) {
	s := m.lookup(guildID)
	if s == nil {
		return StopResult{}, ErrNotActive
	}
	return m.stopSession(s, reason)
}

func (m *Manager) stopSession(s *Session, reason StopReason) (StopResult, error) {
	logger := slog.With("session_id", s.id, "guild_id", s.guildID, "channel_id", s.channelID, "reason", string(reason))
	if s.transition(StateConnecting, StateStopping) {
		logger.Info("stop requested while joining; canceling connect")
		s.cancelConnect()
		info := s.info()
		info.State = StateConnecting
		return StopResult{Info: info, Reason: reason}, nil
	}
	if !s.transition(StateActive, StateStopping) {
		return StopResult{}, ErrNotActive
	}

	logger.Info("stopping session")
	res := m.teardown(s)
	res.Reason = reason
	logger.Info("session stopped", "duration", res.Duration, "participants", res.Participants, "artifact_id", res.ArtifactID)
	m.postChannelMessage(s.channelID, stopChannelMessage(res))
	return res, nil
}

// teardown stops every stream before closing the sink or pipeline, then
// disconnects and frees the slot. Recording processing continues detached.
func (m *Manager) teardown(s *Session) StopResult {
	s.stopReconnectTimer()
	if s.streams != nil {
		s.streams.StopAll()
	}

	res := StopResult{Info: s.info(), Duration: m.now().Sub(s.startedAt)}
	switch {
	case s.sink != nil:
		summary := s.sink.Close()
		m.processor.Finish(s.artifact, summary)
		res.ArtifactID = s.artifact.ID
		res.ByteSize = summary.Bytes
		res.Duration = s.artifact.Duration()
		m.processArtifact(s.artifact)
	case s.convo != nil:
		s.convo.Close()
	}

	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			slog.Warn("failed to disconnect voice connection", "session_id", s.id, "error", err)
		}
	}
	s.mu.Lock()
	activated := s.activated
	s.mu.Unlock()
	if activated {
		m.metrics.SessionEnded(context.Background(), s.mode.String())
	}
	m.release(s)
	return res
}

// abandon undoes a join whose session was stopped before it went Active.
// Nothing is processed or announced.
func (m *Manager) abandon(s *Session) {
	if s.streams != nil {
		s.streams.StopAll()
	}
	switch {
	case s.sink != nil:
		s.sink.Close()
		m.processor.Abandon(context.Background(), s.artifact)
	case s.convo != nil:
		s.convo.Close()
	}
	if err := s.conn.Disconnect(); err != nil {
		slog.Warn("failed to disconnect voice connection", "session_id", s.id, "error", err)
	}
	m.release(s)
}

func (m *Manager) processArtifact(a *recording.Artifact) {
	m.processing.Add(1)
	go func() {
		defer m.processing.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recording processing panicked", "artifact_id", a.ID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if err := m.processor.Process(context.Background(), a); err != nil {
			slog.Error("recording processing failed", "artifact_id", a.ID, "status", a.Status, "error", err)
		}
	}()
}

// WaitForProcessing blocks until detached recording processing has finished
// or ctx is done.
func (m *Manager) WaitForProcessing(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.processing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAllSessions stops every session concurrently and returns how many were
// stopped.
func (m *Manager) StopAllSessions(reason StopReason) int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.slots))
	for _, s := range m.slots {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var (
		g       errgroup.Group
		countMu sync.Mutex
		count   int
	)
	for _, s := range sessions {
		g.Go(func() error {
			if _, err := m.stopSession(s, reason); err != nil {
				return nil
			}
			countMu.Lock()
			count++
			countMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("stopped all sessions", "count", count, "reason", string(reason))
	return count
}

// runSessionWorker runs fn on its own goroutine. A panic stops the session
// with reason unknown_error.
func (m *Manager) runSessionWorker(s *Session, worker string, fn func()) {
	go func() {
		defer m.recoverSession(s, worker)
		fn()
	}()
}

// recoverSession must be deferred directly.
func (m *Manager) recoverSession(s *Session, worker string) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("session worker panicked", "session_id", s.id, "guild_id", s.guildID, "worker", worker, "panic", r, "stack", string(debug.Stack()))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("stopping session after panic also panicked", "session_id", s.id, "panic", r)
			}
		}()
		m.stopSession(s, StopReasonUnknownError)
	}()
}

func (m *Manager) postChannelMessage(channelID, content string) {
	if err := m.discord.SendChannelMessage(channelID, content); err != nil {
		slog.Warn("failed to post channel message", "channel_id", channelID, "error", err)
	}
}
