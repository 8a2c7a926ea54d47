package config

import (
	"fmt"
	"time"
)

const (
	TranscriberBackendOpenAI = "openai"
	TranscriberBackendGoogle = "google"
)

type Config struct {
	Env string

	DiscordToken              string
	DiscordGuildID            string
	DiscordCountOtherBots     bool
	DiscordAutoRecordGuildIDs []string

	DatabaseURL string

	RecordingsDir                  string
	RecordingMinBytes              int64
	RecordingSpeakerSilenceTimeout time.Duration

	ConversationSilenceTimeout time.Duration
	ConversationMinUtterance   time.Duration
	ConversationGreeting       string

	VoiceConnectTimeout  time.Duration
	VoiceReconnectWindow time.Duration
	StageTimeout         time.Duration
	TranscodeTimeout     time.Duration
	UploadTimeout        time.Duration

	FFmpegPath       string
	TranscodeBitrate string

	TranscriberBackend string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	TranscribeModel    string
	TranscribeLanguage string
	ReplyModel         string
	ReplySystemPrompt  string
	SpeechBaseURL      string
	SpeechAPIKey       string
	SpeechModel        string
	SpeechVoice        string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	ArtifactS3Bucket          string
	ArtifactS3Region          string
	ArtifactS3Endpoint        string
	ArtifactS3AccessKeyID     string
	ArtifactS3SecretAccessKey string
	ArtifactS3Prefix          string
	ArtifactPublicBaseURL     string
	ArtifactURLTTL            time.Duration

	RecordingWebhookURL string
	MetricsAddr         string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.RecordingMinBytes < 0 {
		return fmt.Errorf("RECORDING_MIN_BYTES must not be negative, got %d", c.RecordingMinBytes)
	}
	for _, d := range c.positiveDurationChecks() {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	switch c.TranscriberBackend {
	case TranscriberBackendOpenAI:
	case TranscriberBackendGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBER_BACKEND=google")
		}
	default:
		return fmt.Errorf("TRANSCRIBER_BACKEND must be %q or %q, got %q", TranscriberBackendOpenAI, TranscriberBackendGoogle, c.TranscriberBackend)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "RECORDINGS_DIR", value: c.RecordingsDir},
		{name: "FFMPEG_PATH", value: c.FFmpegPath},
		{name: "OPENAI_API_KEY", value: c.OpenAIAPIKey},
		{name: "ARTIFACT_S3_BUCKET", value: c.ArtifactS3Bucket},
		{name: "ARTIFACT_S3_ACCESS_KEY_ID", value: c.ArtifactS3AccessKeyID},
		{name: "ARTIFACT_S3_SECRET_ACCESS_KEY", value: c.ArtifactS3SecretAccessKey},
	}
}

type durationField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []durationField {
	return []durationField{
		{name: "RECORDING_SPEAKER_SILENCE_TIMEOUT", value: c.RecordingSpeakerSilenceTimeout},
		{name: "CONVERSATION_SILENCE_TIMEOUT", value: c.ConversationSilenceTimeout},
		{name: "CONVERSATION_MIN_UTTERANCE", value: c.ConversationMinUtterance},
		{name: "VOICE_CONNECT_TIMEOUT", value: c.VoiceConnectTimeout},
		{name: "VOICE_RECONNECT_WINDOW", value: c.VoiceReconnectWindow},
		{name: "STAGE_TIMEOUT", value: c.StageTimeout},
		{name: "TRANSCODE_TIMEOUT", value: c.TranscodeTimeout},
		{name: "UPLOAD_TIMEOUT", value: c.UploadTimeout},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// EffectiveSpeechAPIKey falls back to the shared OpenAI-compatible key.
func (c *Config) EffectiveSpeechAPIKey() string {
	if c.SpeechAPIKey != "" {
		return c.SpeechAPIKey
	}
	return c.OpenAIAPIKey
}

func (c *Config) AutoRecordEnabledAtBoot(guildID string) bool {
	for _, id := range c.DiscordAutoRecordGuildIDs {
		if id == guildID {
			return true
		}
	}
	return false
}
