package discord

import "context"

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []IntegerOption
}

// IntegerOption is an optional integer argument bounded to [Min, Max].
type IntegerOption struct {
	Name        string
	Description string
	Min         int
	Max         int
}

type SlashCommandEvent struct {
	GuildID     string
	ChannelID   string
	CommandName string
	UserID      string
	// IntOptions holds the integer options the invoker supplied.
	IntOptions       map[string]int64
	RespondEphemeral func(content string) error
}

type VoiceStateEvent struct {
	GuildID         string
	UserID          string
	UserIsBot       bool
	BeforeChannelID string
	AfterChannelID  string
}

type VoiceParticipant struct {
	UserID string
	IsBot  bool
}

// ChannelNames carries display names with ids as fallback.
type ChannelNames struct {
	GuildName   string
	ChannelName string
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	JoinVoiceChannel(ctx context.Context, guildID, channelID string) (VoiceConnection, error)
	SendChannelMessage(channelID, content string) error
	RegisterVoiceStateUpdateHandler(handler func(VoiceStateEvent))
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	UpsertGuildSlashCommands(guildID string, defs []SlashCommandDefinition) error
	GetUserVoiceChannelID(guildID, userID string) (string, error)
	ListVoiceChannelParticipants(guildID, channelID string) ([]VoiceParticipant, error)
	// ListVoiceChannelsWithMembers returns every voice channel id in the guild
	// mapped to its current members.
	ListVoiceChannelsWithMembers(guildID string) (map[string][]VoiceParticipant, error)
	ResolveChannelNames(guildID, channelID string) ChannelNames
	GetBotUserID() (string, error)
	Run() error
}

type ConnectionState int

const (
	ConnectionReady ConnectionState = iota
	ConnectionReconnecting
	ConnectionDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionReady:
		return "ready"
	case ConnectionReconnecting:
		return "reconnecting"
	case ConnectionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Subscription delivers one speaker's compressed frames in arrival order.
// Frames is closed after Close or when the connection goes away.
type Subscription interface {
	Frames() <-chan []byte
	Close()
}

type VoiceConnection interface {
	// OnSpeechStart fires when audio arrives for a user with no open
	// subscription.
	OnSpeechStart(handler func(userID string))
	OnStateChange(handler func(ConnectionState))
	Subscribe(userID string) Subscription
	// Play sends 48 kHz mono s16le PCM. Concurrent calls are serialized.
	Play(ctx context.Context, pcm []byte) error
	Disconnect() error
}
