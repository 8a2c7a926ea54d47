package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foxseedlab/rokuon/internal/discord"
)

func (m *Manager) acceptsGuild(guildID string) bool {
	return m.cfg.DiscordGuildID == "" || guildID == m.cfg.DiscordGuildID
}

func (m *Manager) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	if !m.acceptsGuild(event.GuildID) {
		slog.Debug("ignoring voice event for different guild", "event_guild_id", event.GuildID, "configured_guild_id", m.cfg.DiscordGuildID)
		return
	}
	if event.BeforeChannelID == event.AfterChannelID && event.BeforeChannelID != "" {
		// Mute, deafen and similar updates.
		return
	}
	slog.Debug("voice state update received", "guild_id", event.GuildID, "user_id", event.UserID, "before_channel_id", event.BeforeChannelID, "after_channel_id", event.AfterChannelID)

	if m.isSelf(event.UserID) {
		m.handleSelfVoiceState(event)
		return
	}
	if !m.shouldCountParticipant(event.UserID, event.UserIsBot) {
		return
	}

	s := m.lookup(event.GuildID)
	if s != nil && s.State() == StateActive && event.AfterChannelID == s.channelID {
		s.addParticipant(event.UserID)
	}
	if !m.AutoRecordEnabled(event.GuildID) {
		return
	}
	m.applyAutoTransition(event, s)
}

// handleSelfVoiceState stops the session when the bot is disconnected or
// moved out of its channel by someone else.
func (m *Manager) handleSelfVoiceState(event discord.VoiceStateEvent) {
	s := m.lookup(event.GuildID)
	if s == nil || s.State() != StateActive {
		return
	}
	if event.AfterChannelID == s.channelID {
		return
	}
	if event.BeforeChannelID != "" && event.BeforeChannelID != s.channelID {
		return
	}
	slog.Warn("bot left the session channel", "session_id", s.id, "guild_id", s.guildID, "channel_id", s.channelID, "after_channel_id", event.AfterChannelID)
	m.stopSession(s, StopReasonBotRemoved)
}

func (m *Manager) applyAutoTransition(event discord.VoiceStateEvent, s *Session) {
	if s != nil && s.mode == ModeRecording && event.AfterChannelID != s.channelID && s.markOccupancyStale() {
		slog.Debug("member left while joining; deferring auto-record check", "session_id", s.id, "user_id", event.UserID)
		return
	}

	in := autoInput{
		occupied: s != nil,
		tracking: s != nil && s.mode == ModeRecording && s.State() == StateActive,
		joined:   event.AfterChannelID != "",
	}

	var sibling string
	if in.tracking && event.AfterChannelID != s.channelID {
		in.leftTracked = true
		counts, err := m.countOccupancy(event.GuildID)
		if err != nil {
			slog.Error("failed to read voice channel occupancy", "guild_id", event.GuildID, "error", err)
			return
		}
		in.trackedCount = counts[s.channelID]
		sibling = pickSibling(counts, s.channelID, event.AfterChannelID)
		in.siblingOccupied = sibling != ""
	}

	action, rule := decideAuto(in)
	if action == autoNone {
		return
	}
	slog.Info("auto-record transition", "guild_id", event.GuildID, "action", action.String(), "rule", rule, "user_id", event.UserID)
	m.runAutoAction(event.GuildID, s, action, event.AfterChannelID, sibling)
}

// recheckOccupancy runs the auto table for a recording that went Active after
// a member left its channel mid-join, as if that leave happened now.
func (m *Manager) recheckOccupancy(s *Session) {
	if !m.AutoRecordEnabled(s.guildID) || s.State() != StateActive {
		return
	}
	counts, err := m.countOccupancy(s.guildID)
	if err != nil {
		slog.Error("failed to read voice channel occupancy", "guild_id", s.guildID, "error", err)
		return
	}
	sibling := pickSibling(counts, s.channelID, "")
	action, rule := decideAuto(autoInput{
		occupied:        true,
		tracking:        true,
		leftTracked:     true,
		trackedCount:    counts[s.channelID],
		siblingOccupied: sibling != "",
	})
	if action == autoNone {
		return
	}
	slog.Info("auto-record transition after joining", "session_id", s.id, "guild_id", s.guildID, "action", action.String(), "rule", rule)
	m.runAutoAction(s.guildID, s, action, "", sibling)
}

func (m *Manager) runAutoAction(guildID string, s *Session, action autoAction, joinedChannelID, sibling string) {
	switch action {
	case autoStart:
		m.autoStart(guildID, joinedChannelID)
	case autoStop:
		m.stopSession(s, StopReasonParticipantsLeft)
	case autoHop:
		if _, err := m.stopSession(s, StopReasonChannelSwitch); err != nil {
			return
		}
		m.autoStart(guildID, sibling)
	}
}

func (m *Manager) autoStart(guildID, channelID string) {
	_, err := m.Start(context.Background(), guildID, channelID, ModeRecording)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyActive):
		slog.Debug("auto-record start lost the race to another start", "guild_id", guildID, "channel_id", channelID)
	default:
		slog.Error("auto-record start failed", "guild_id", guildID, "channel_id", channelID, "error", err)
	}
}

// countOccupancy maps every voice channel in the guild to its counted members.
func (m *Manager) countOccupancy(guildID string) (map[string]int, error) {
	byChannel, err := m.discord.ListVoiceChannelsWithMembers(guildID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(byChannel))
	for channelID, members := range byChannel {
		n := 0
		for _, p := range members {
			if m.shouldCountParticipant(p.UserID, p.IsBot) {
				n++
			}
		}
		counts[channelID] = n
	}
	return counts, nil
}
