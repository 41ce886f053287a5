// Package llm adapts an OpenAI-compatible chat model to the edit flow's
// proposal service and classifiers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse is returned when the model reply is not the JSON shape
// that was asked for.
var ErrMalformedResponse = errors.New("malformed model response")

type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the API root, e.g. for a local gateway.
	BaseURL string
	Logger  *slog.Logger
}

// Client is a thin wrapper over the chat completions endpoint.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	logger.Info("openai client initialized", "model", model)
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// completeJSON sends one system + user turn and asks for a JSON object reply.
func (c *Client) completeJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	c.logger.DebugContext(ctx, "openai completion",
		"model", c.model,
		"finish_reason", string(resp.Choices[0].FinishReason),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// stripFences removes a ```json fence some models wrap around JSON mode output.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
