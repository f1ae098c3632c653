// Package ai exposes the text generation capability used to draft replies.
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/spec-kit/crm-service/internal/config"
)

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("ai generation is not configured")

// Options tunes a single generation.
type Options struct {
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// OpenAIGenerator implements Generator with the chat completions API.
type OpenAIGenerator struct {
	client   *openai.Client
	defaults Options
}

// NewGenerator returns an OpenAI-backed generator, or a disabled one when no
// API key is set.
func NewGenerator(cfg config.AIConfig) Generator {
	if cfg.OpenAIKey == "" {
		return disabled{}
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		defaults: Options{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := firstNonEmpty(opts.Model, g.defaults.Model, "gpt-4o-mini")
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.defaults.MaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = g.defaults.Temperature
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ai provider returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type disabled struct{}

func (disabled) Generate(context.Context, string, Options) (string, error) {
	return "", ErrDisabled
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
