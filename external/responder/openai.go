package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var errNoChoices = errors.New("chat completion returned no choices")

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAIResponder answers single-turn prompts through an OpenAI-compatible
// chat completions endpoint. Every call is independent; no history is kept.
type OpenAIResponder struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIResponder(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIResponder {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	return &OpenAIResponder{
		client:       &client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}
}

func (r *OpenAIResponder) Reply(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if r.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	slog.Debug("requesting chat completion", "model", r.model, "prompt_chars", len(prompt))
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(r.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
