package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/rokuon/internal/recording"
	"github.com/foxseedlab/rokuon/internal/repository"
)

const (
	slashCommandRecordDescription     = "Start recording the voice channel you are in."
	slashCommandConverseDescription   = "Start a voice conversation in the voice channel you are in."
	slashCommandStopDescription       = "Stop the current recording or conversation."
	slashCommandStatusDescription     = "Show what is running in this server."
	slashCommandAutoRecordDescription = "Toggle automatic recording when members join voice channels."
	slashCommandRecordingsDescription = "List this server's saved recordings."

	slashCommandRecordingsLimitDescription = "Number of recordings to show (default 10)."

	messageEphemeralWrongGuild        = ":warning: **This command cannot be used in this server.**"
	messageEphemeralUnknownCommand    = ":warning: **Unknown command.**"
	messageEphemeralVoiceLookupFailed = ":warning: **Could not check which voice channel you are in.**"
	messageEphemeralJoinVCFirst       = ":warning: **Join a voice channel first.**"
	messageEphemeralStartFailed       = ":warning: **Could not join the voice channel.** Check the bot's permissions and try again."
	messageEphemeralStopFailed        = ":warning: **Failed to stop.**"
	messageEphemeralNotRunning        = ":warning: **Nothing is running in this server.**"
	messageEphemeralStopWhileJoining  = ":pause_button: **Canceled joining the voice channel.**"
	messageEphemeralRecordingsFailed  = ":warning: **Could not load recordings.**"

	messageRecordingHint    = "-# Use /stop to end the recording."
	messageConversationHint = "-# Speak after the greeting. Use /stop to end the conversation."
	messageRestartHint      = "-# Use /record or /converse to start again."
)

func modeTitle(mode Mode) string {
	if mode == ModeConversation {
		return "conversation"
	}
	return "recording"
}

func alreadyRunningMessage(info Info) string {
	return fmt.Sprintf(":warning: **Already %s in <#%s>.**\n-# Use /stop first.", activeVerb(info.Mode), info.ChannelID)
}

func activeVerb(mode Mode) string {
	if mode == ModeConversation {
		return "in a conversation"
	}
	return "recording"
}

func startEphemeralMessage(info Info) string {
	if info.Mode == ModeConversation {
		return fmt.Sprintf(":speech_balloon: **Joined <#%s> for a conversation.**\n%s", info.ChannelID, messageConversationHint)
	}
	return fmt.Sprintf(":red_circle: **Recording <#%s>.**\n%s", info.ChannelID, messageRecordingHint)
}

func startChannelMessage(info Info) string {
	if info.Mode == ModeConversation {
		return ":speech_balloon: **Conversation started.**\n" + messageConversationHint
	}
	return ":red_circle: **Recording started.**\n" + messageRecordingHint
}

func stopEphemeralMessage(res StopResult) string {
	if res.State == StateConnecting {
		return messageEphemeralStopWhileJoining
	}
	return fmt.Sprintf(":pause_button: **Stopped the %s in <#%s>** after %s.", modeTitle(res.Mode), res.ChannelID, formatDuration(res.Duration))
}

func stopChannelMessage(res StopResult) string {
	lines := []string{
		fmt.Sprintf(":pause_button: **The %s has ended.**", modeTitle(res.Mode)),
		stopReasonDetail(res.Reason),
		fmt.Sprintf("Duration: %s | Participants: %d", formatDuration(res.Duration), res.Participants),
	}
	if res.Mode == ModeRecording {
		lines = append(lines, "-# The recording link will be posted here once it is processed.")
	}
	if stopReasonNeedsRestart(res.Reason) {
		lines = append(lines, messageRestartHint)
	}
	return strings.Join(lines, "\n")
}

func stopReasonDetail(reason StopReason) string {
	switch reason {
	case StopReasonManualSlash:
		return "A participant ran the stop command."
	case StopReasonParticipantsLeft:
		return "Everyone left the voice channel."
	case StopReasonChannelSwitch:
		return "Everyone moved to another voice channel."
	case StopReasonBotRemoved:
		return "The bot was removed from the voice channel."
	case StopReasonConnectionLost:
		return "The voice connection was lost."
	case StopReasonServerClosed:
		return "The bot is shutting down."
	default:
		return "An unknown error occurred."
	}
}

func stopReasonNeedsRestart(reason StopReason) bool {
	switch reason {
	case StopReasonConnectionLost, StopReasonServerClosed, StopReasonUnknownError:
		return true
	default:
		return false
	}
}

func statusMessage(info Info, active bool, autoEnabled bool, now time.Time) string {
	auto := "Disabled"
	if autoEnabled {
		auto = "Enabled"
	}
	if !active {
		return fmt.Sprintf(":mailbox_with_no_mail: **Nothing is running.**\nAuto-record: %s\n-# Use /record or /converse to start.", auto)
	}
	return strings.Join([]string{
		fmt.Sprintf(":red_circle: **%s in progress** (%s)", capitalize(modeTitle(info.Mode)), info.State),
		fmt.Sprintf("Channel: <#%s>", info.ChannelID),
		fmt.Sprintf("Elapsed: %s", formatDuration(now.Sub(info.StartedAt))),
		fmt.Sprintf("Participants: %d", info.Participants),
		fmt.Sprintf("Auto-record: %s", auto),
	}, "\n")
}

func autoRecordMessage(enabled bool) string {
	if enabled {
		return ":white_check_mark: **Auto-recording enabled.**\n-# Recording starts automatically when members join a voice channel."
	}
	return ":stop_button: **Auto-recording disabled.**\n-# Use /record to record manually."
}

func recordingFinishedMessage(a recording.Artifact) string {
	switch a.Status {
	case repository.RecordingStatusUploaded:
		return fmt.Sprintf(":white_check_mark: **Recording saved.**\nDuration: %s | Participants: %d\n:link: %s",
			formatDuration(a.Duration()), a.ParticipantCount, a.URL)
	case repository.RecordingStatusDiscarded:
		return ":grey_exclamation: **The recording was too short to save.**"
	default:
		return fmt.Sprintf(":warning: **The recording could not be saved.**\n-# %s", a.FailureReason)
	}
}

// Discord rejects messages over 2000 characters.
const maxMessageLength = 2000

// recordingsMessage lists saved recordings and, when live is set, the
// recording in progress. Entries that would overflow one message are counted
// instead of shown.
func recordingsMessage(recs []*repository.Recording, live *Info, now time.Time) string {
	header := []string{":studio_microphone: **Saved recordings**"}
	if live != nil {
		header = append(header, fmt.Sprintf(":red_circle: Recording <#%s> now | %s | Participants: %d",
			live.ChannelID, formatDuration(now.Sub(live.StartedAt)), live.Participants))
	}
	if len(recs) == 0 {
		return strings.Join(append(header, "No recordings saved yet."), "\n")
	}

	out := strings.Join(header, "\n")
	for i, rec := range recs {
		entry := fmt.Sprintf("\n\n:date: <t:%d:f> | <#%s>\nDuration: %s | Participants: %d | Size: %s\n:link: %s",
			rec.StartedAt.Unix(), rec.ChannelID, formatDuration(time.Duration(rec.DurationMs)*time.Millisecond),
			rec.ParticipantCount, formatSize(rec.ByteSize), rec.URL)
		rest := len(recs) - i
		footer := fmt.Sprintf("\n-# %d more not shown.", rest)
		need := len(out) + len(entry)
		if rest > 1 {
			need += len(footer)
		}
		if need > maxMessageLength {
			return out + footer
		}
		out += entry
	}
	return out
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// formatDuration renders "1h 2m 3s", "2m 3s" or "3s".
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
