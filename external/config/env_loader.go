package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/rokuon/internal/config"
)

type envConfig struct {
	Env string `env:"ENV" envDefault:"production"`

	DiscordToken              string   `env:"DISCORD_TOKEN,required"`
	DiscordGuildID            string   `env:"DISCORD_GUILD_ID"`
	DiscordCountOtherBots     bool     `env:"DISCORD_COUNT_OTHER_BOTS_AS_PARTICIPANTS" envDefault:"false"`
	DiscordAutoRecordGuildIDs []string `env:"DISCORD_AUTO_RECORD_GUILD_IDS" envSeparator:","`

	DatabaseURL string `env:"DATABASE_URL,required"`

	RecordingsDir                  string        `env:"RECORDINGS_DIR" envDefault:"recordings"`
	RecordingMinBytes              int64         `env:"RECORDING_MIN_BYTES" envDefault:"1000"`
	RecordingSpeakerSilenceTimeout time.Duration `env:"RECORDING_SPEAKER_SILENCE_TIMEOUT" envDefault:"5s"`

	ConversationSilenceTimeout time.Duration `env:"CONVERSATION_SILENCE_TIMEOUT" envDefault:"1s"`
	ConversationMinUtterance   time.Duration `env:"CONVERSATION_MIN_UTTERANCE" envDefault:"1s"`
	ConversationGreeting       string        `env:"CONVERSATION_GREETING" envDefault:"Hello! I am ready to listen."`

	VoiceConnectTimeout  time.Duration `env:"VOICE_CONNECT_TIMEOUT" envDefault:"60s"`
	VoiceReconnectWindow time.Duration `env:"VOICE_RECONNECT_WINDOW" envDefault:"5s"`
	StageTimeout         time.Duration `env:"STAGE_TIMEOUT" envDefault:"30s"`
	TranscodeTimeout     time.Duration `env:"TRANSCODE_TIMEOUT" envDefault:"5m"`
	UploadTimeout        time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"2m"`

	FFmpegPath       string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	TranscodeBitrate string `env:"TRANSCODE_BITRATE" envDefault:"128k"`

	TranscriberBackend string `env:"TRANSCRIBER_BACKEND" envDefault:"openai"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	TranscribeModel    string `env:"TRANSCRIBE_MODEL" envDefault:"whisper-large-v3-turbo"`
	TranscribeLanguage string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	ReplyModel         string `env:"REPLY_MODEL" envDefault:"llama-3.3-70b-versatile"`
	ReplySystemPrompt  string `env:"REPLY_SYSTEM_PROMPT" envDefault:"You are a helpful voice assistant in a Discord call. Keep your answers brief, conversational, and friendly (max 2 sentences)."`
	SpeechBaseURL      string `env:"SPEECH_BASE_URL" envDefault:"https://api.openai.com/v1"`
	SpeechAPIKey       string `env:"SPEECH_API_KEY"`
	SpeechModel        string `env:"SPEECH_MODEL" envDefault:"tts-1"`
	SpeechVoice        string `env:"SPEECH_VOICE" envDefault:"alloy"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"us"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`

	ArtifactS3Bucket          string        `env:"ARTIFACT_S3_BUCKET,required"`
	ArtifactS3Region          string        `env:"ARTIFACT_S3_REGION" envDefault:"us-east-1"`
	ArtifactS3Endpoint        string        `env:"ARTIFACT_S3_ENDPOINT"`
	ArtifactS3AccessKeyID     string        `env:"ARTIFACT_S3_ACCESS_KEY_ID,required"`
	ArtifactS3SecretAccessKey string        `env:"ARTIFACT_S3_SECRET_ACCESS_KEY,required"`
	ArtifactS3Prefix          string        `env:"ARTIFACT_S3_PREFIX" envDefault:"recordings"`
	ArtifactPublicBaseURL     string        `env:"ARTIFACT_PUBLIC_BASE_URL"`
	ArtifactURLTTL            time.Duration `env:"ARTIFACT_URL_TTL" envDefault:"168h"`

	RecordingWebhookURL string `env:"RECORDING_WEBHOOK_URL"`
	MetricsAddr         string `env:"METRICS_ADDR"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                            raw.Env,
		DiscordToken:                   raw.DiscordToken,
		DiscordGuildID:                 raw.DiscordGuildID,
		DiscordCountOtherBots:          raw.DiscordCountOtherBots,
		DiscordAutoRecordGuildIDs:      raw.DiscordAutoRecordGuildIDs,
		DatabaseURL:                    raw.DatabaseURL,
		RecordingsDir:                  raw.RecordingsDir,
		RecordingMinBytes:              raw.RecordingMinBytes,
		RecordingSpeakerSilenceTimeout: raw.RecordingSpeakerSilenceTimeout,
		ConversationSilenceTimeout:     raw.ConversationSilenceTimeout,
		ConversationMinUtterance:       raw.ConversationMinUtterance,
		ConversationGreeting:           raw.ConversationGreeting,
		VoiceConnectTimeout:            raw.VoiceConnectTimeout,
		VoiceReconnectWindow:           raw.VoiceReconnectWindow,
		StageTimeout:                   raw.StageTimeout,
		TranscodeTimeout:               raw.TranscodeTimeout,
		UploadTimeout:                  raw.UploadTimeout,
		FFmpegPath:                     raw.FFmpegPath,
		TranscodeBitrate:               raw.TranscodeBitrate,
		TranscriberBackend:             raw.TranscriberBackend,
		OpenAIAPIKey:                   raw.OpenAIAPIKey,
		OpenAIBaseURL:                  raw.OpenAIBaseURL,
		TranscribeModel:                raw.TranscribeModel,
		TranscribeLanguage:             raw.TranscribeLanguage,
		ReplyModel:                     raw.ReplyModel,
		ReplySystemPrompt:              raw.ReplySystemPrompt,
		SpeechBaseURL:                  raw.SpeechBaseURL,
		SpeechAPIKey:                   raw.SpeechAPIKey,
		SpeechModel:                    raw.SpeechModel,
		SpeechVoice:                    raw.SpeechVoice,
		GoogleCloudProjectID:           raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON:     raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:      raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:         raw.GoogleCloudSpeechModel,
		ArtifactS3Bucket:               raw.ArtifactS3Bucket,
		ArtifactS3Region:               raw.ArtifactS3Region,
		ArtifactS3Endpoint:             raw.ArtifactS3Endpoint,
		ArtifactS3AccessKeyID:          raw.ArtifactS3AccessKeyID,
		ArtifactS3SecretAccessKey:      raw.ArtifactS3SecretAccessKey,
		ArtifactS3Prefix:               raw.ArtifactS3Prefix,
		ArtifactPublicBaseURL:          raw.ArtifactPublicBaseURL,
		ArtifactURLTTL:                 raw.ArtifactURLTTL,
		RecordingWebhookURL:            raw.RecordingWebhookURL,
		MetricsAddr:                    raw.MetricsAddr,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
