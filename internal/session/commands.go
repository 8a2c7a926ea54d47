package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/rokuon/internal/discord"
)

const (
	commandRecord     = "record"
	commandConverse   = "converse"
	commandStop       = "stop"
	commandStatus     = "status"
	commandAutoRecord = "autorecord"
	commandRecordings = "recordings"

	optionLimit            = "limit"
	defaultRecordingsLimit = 10
	maxRecordingsLimit     = 25
	recordingsQueryTimeout = 10 * time.Second
)

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandRecord, Description: slashCommandRecordDescription},
		{Name: commandConverse, Description: slashCommandConverseDescription},
		{Name: commandStop, Description: slashCommandStopDescription},
		{Name: commandStatus, Description: slashCommandStatusDescription},
		{Name: commandAutoRecord, Description: slashCommandAutoRecordDescription},
		{
			Name:        commandRecordings,
			Description: slashCommandRecordingsDescription,
			Options: []discord.IntegerOption{{
				Name:        optionLimit,
				Description: slashCommandRecordingsLimitDescription,
				Min:         1,
				Max:         maxRecordingsLimit,
			}},
		},
	}
}

// HandleSlashCommand answers every command with exactly one ephemeral reply.
func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	respond := func(content string) {
		if event.RespondEphemeral == nil {
			return
		}
		if err := event.RespondEphemeral(content); err != nil {
			slog.Error("failed to respond to slash command", "command", event.CommandName, "guild_id", event.GuildID, "error", err)
		}
	}
	if !m.acceptsGuild(event.GuildID) {
		respond(messageEphemeralWrongGuild)
		return
	}

	switch event.CommandName {
	case commandRecord:
		respond(m.handleStartCommand(event, ModeRecording))
	case commandConverse:
		respond(m.handleStartCommand(event, ModeConversation))
	case commandStop:
		respond(m.handleStopCommand(event))
	case commandStatus:
		info, active := m.Status(event.GuildID)
		respond(statusMessage(info, active, m.AutoRecordEnabled(event.GuildID), m.now()))
	case commandAutoRecord:
		enabled := !m.AutoRecordEnabled(event.GuildID)
		m.SetAutoRecord(event.GuildID, enabled)
		respond(autoRecordMessage(enabled))
	case commandRecordings:
		respond(m.handleRecordingsCommand(event))
	default:
		respond(messageEphemeralUnknownCommand)
	}
}

func (m *Manager) handleStartCommand(event discord.SlashCommandEvent, mode Mode) string {
	channelID, err := m.discord.GetUserVoiceChannelID(event.GuildID, event.UserID)
	if err != nil {
		slog.Error("failed to look up invoker voice channel", "guild_id", event.GuildID, "user_id", event.UserID, "error", err)
		return messageEphemeralVoiceLookupFailed
	}
	if channelID == "" {
		return messageEphemeralJoinVCFirst
	}

	info, err := m.Start(context.Background(), event.GuildID, channelID, mode)
	switch {
	case err == nil:
		return startEphemeralMessage(info)
	case errors.Is(err, ErrAlreadyActive):
		current, ok := m.Status(event.GuildID)
		if !ok {
			return messageEphemeralStartFailed
		}
		return alreadyRunningMessage(current)
	default:
		slog.Error("failed to start session from command", "guild_id", event.GuildID, "channel_id", channelID, "mode", mode.String(), "error", err)
		return messageEphemeralStartFailed
	}
}

func (m *Manager) handleStopCommand(event discord.SlashCommandEvent) string {
	res, err := m.Stop(event.GuildID, StopReasonManualSlash)
	switch {
	case err == nil:
		return stopEphemeralMessage(res)
	case errors.Is(err, ErrNotActive):
		return messageEphemeralNotRunning
	default:
		slog.Error("failed to stop session from command", "guild_id", event.GuildID, "error", err)
		return messageEphemeralStopFailed
	}
}

func (m *Manager) handleRecordingsCommand(event discord.SlashCommandEvent) string {
	limit := defaultRecordingsLimit
	if n, ok := event.IntOptions[optionLimit]; ok {
		limit = int(min(max(n, 1), maxRecordingsLimit))
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordingsQueryTimeout)
	defer cancel()
	recs, err := m.processor.Recent(ctx, event.GuildID, limit)
	if err != nil {
		slog.Error("failed to list recordings", "guild_id", event.GuildID, "limit", limit, "error", err)
		return messageEphemeralRecordingsFailed
	}

	var live *Info
	if info, ok := m.Status(event.GuildID); ok && info.Mode == ModeRecording && info.State == StateActive {
		live = &info
	}
	return recordingsMessage(recs, live, m.now())
}
