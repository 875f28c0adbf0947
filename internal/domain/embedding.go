package domain

import "context"

// EmbeddingResult carries a vector and the token usage that produced it.
// Cache hits report zero tokens.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// Generator produces a chat completion from an ordered message list.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}
