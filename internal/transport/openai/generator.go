package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// DefaultGenerationTimeout bounds one completion call, streaming included.
const DefaultGenerationTimeout = 45 * time.Second

// Generator is a chat-completion provider using the OpenAI-compatible API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewGenerator creates an OpenAI-compatible chat-completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		logger:      cfg.Logger,
	}
}

// Generate implements domain.Generator with a single blocking completion.
func (g *Generator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, g.request(messages))
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return "", parseAPIError("generation", err)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	metrics.GenerationDuration.WithLabelValues(g.model).Observe(time.Since(start).Seconds())

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty generation response: %w", domain.ErrProviderError)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream issues a streaming completion and calls onToken for every content
// delta as it arrives. Returns after the stream is drained or onToken
// reports an error.
func (g *Generator) Stream(ctx context.Context, messages []domain.Message, onToken func(token string) error) error {
	// The budget covers the whole stream, not just the dial.
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()

	req := g.request(messages)
	req.Stream = true

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return parseAPIError("generation", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
			return parseAPIError("generation", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if err := onToken(token); err != nil {
			return err
		}
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	metrics.GenerationDuration.WithLabelValues(g.model).Observe(time.Since(start).Seconds())
	return nil
}

func (g *Generator) request(messages []domain.Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
	}
	if g.maxTokens > 0 {
		req.MaxTokens = g.maxTokens
	}
	return req
}

func chatRole(role string) string {
	switch role {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
