package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxseedlab/rokuon/internal/transcriber"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAITranscriber talks to any OpenAI-compatible transcription endpoint
// (Groq Whisper by default).
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAITranscriber(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAITranscriber {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	return &OpenAITranscriber{
		client:   &client,
		model:    cfg.Model,
		language: strings.TrimSpace(cfg.Language),
	}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, format transcriber.AudioFormat) (string, error) {
	if format != transcriber.FormatWAV {
		return "", fmt.Errorf("unsupported audio format %q", format)
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	slog.Debug("requesting transcription", "model", t.model, "bytes", len(audio))
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}
