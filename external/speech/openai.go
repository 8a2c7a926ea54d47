package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// The pcm response format is 24 kHz mono s16le.
const openAISpeechSampleRate = 24000

var errEmptySpeech = errors.New("speech response contained no audio")

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

type OpenAISynthesizer struct {
	client     *openai.Client
	model      string
	voice      string
	sourceRate int
}

func NewOpenAISynthesizer(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAISynthesizer {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	return &OpenAISynthesizer{
		client:     &client,
		model:      cfg.Model,
		voice:      cfg.Voice,
		sourceRate: openAISpeechSampleRate,
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	slog.Debug("requesting speech synthesis", "model", s.model, "voice", s.voice, "chars", len(text))
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	raw = raw[:len(raw)-len(raw)%audio.BytesPerSample]
	if len(raw) == 0 {
		return nil, errEmptySpeech
	}
	return resampleMono(raw, s.sourceRate, audio.SampleRate)
}
