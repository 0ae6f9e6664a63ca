// Package llm wraps an OpenAI-compatible chat-completions API behind the two
// call shapes the chat engine needs: a non-streaming completion used to probe
// for tool calls, and a streaming completion used to produce the final
// answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Config holds LLM client configuration.
type Config struct {
	// APIKey authenticates against the provider. Required.
	APIKey string

	// BaseURL overrides the API endpoint (self-hosted or proxy deployments).
	// Empty uses the provider default.
	BaseURL string

	// Model is the chat model identifier. Required.
	Model string

	Temperature float32
	MaxTokens   int

	// RateLimit is a proactive client-side cap in requests per second.
	// Zero disables it; the provider's own limits still apply.
	RateLimit float64
}

// Client is the OpenAI-backed chat completion client.
// Safe for concurrent use.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// New creates an LLM client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     limiter,
		logger:      logger.With("component", "llm"),
	}, nil
}

// request builds the shared request shape.
func (c *Client) request(messages []openai.ChatCompletionMessage, tools []openai.Tool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// Complete issues a non-streaming chat completion. The returned message may
// carry tool calls when tools are offered.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, tools))
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	c.logger.Debug("completion",
		"tool_calls", len(msg.ToolCalls),
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return msg, nil
}

// CompleteStream issues a streaming chat completion without tools and feeds
// each content fragment to fn. A non-nil error from fn aborts the stream and
// is returned unchanged, so callers can distinguish their own cancellation
// from provider failures.
func (c *Client) CompleteStream(ctx context.Context, messages []openai.ChatCompletionMessage, fn func(token string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req := c.request(messages, nil)
	req.Stream = true

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
}
