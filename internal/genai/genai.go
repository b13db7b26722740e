// Package genai provides GenAI-enhanced operations using OpenAI API.

package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// DefaultTemperature keeps listing summaries close to the source text.
const DefaultTemperature = 0.3

// ErrNoChoicesReturned is returned when the API answers without any choice.
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrNoAPIKey          = errors.New("OPENAI_API_KEY not set")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	client openai.Client
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key. OPENAI_API_KEY is used when unset.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// Client wraps the OpenAI ChatCompletion service for composing alert text.
type Client struct {
	chat        chatService
	model       string
	temperature float64
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = string(DefaultModel)
	}
	slog.Debug("GenAI client configured", "model", cfg.Model, "temperature", cfg.Temperature)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:        completionsAdapter{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate returns the model's answer to a system and user prompt pair.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.Generate: completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
