// Package openai wraps the OpenAI-compatible embedding and chat APIs
// behind the domain interfaces.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// MaxEmbedChars caps the input passed to the embedding API.
const MaxEmbedChars = 8000

// MinEmbedChars rejects inputs too short to embed meaningfully.
const MinEmbedChars = 10

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	maxChars   int
	logger     *zap.Logger
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxChars   int
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxEmbedChars
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		maxChars:   maxChars,
		logger:     cfg.Logger,
	}
}

// Embed implements domain.Embedder. Input beyond the character cap is
// truncated rather than rejected; input below the minimum is an error.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	text = strings.TrimSpace(text)
	if len(text) < MinEmbedChars {
		return domain.EmbeddingResult{}, fmt.Errorf("input length %d: %w", len(text), domain.ErrTextTooShort)
	}
	if len(text) > e.maxChars {
		text = text[:e.maxChars]
	}

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return domain.EmbeddingResult{}, parseAPIError("embedding", err)
	}

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(string(e.model), "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(string(e.model), "total").Add(float64(resp.Usage.TotalTokens))
	}

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// The original provider error stays in the chain so retry classification
// can inspect its HTTP status; domain sentinels are layered on top.
func parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w (%w)",
			op, reqErr.HTTPStatusCode, detail, sentinelFor(reqErr.HTTPStatusCode), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w (%w)",
			op, apiErr.HTTPStatusCode, apiErr.Message, sentinelFor(apiErr.HTTPStatusCode), err)
	}

	return fmt.Errorf("%s request failed: %w (%w)", op, domain.ErrProviderError, err)
}

func sentinelFor(status int) error {
	if status == 429 {
		return domain.ErrRateLimited
	}
	return domain.ErrProviderError
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
