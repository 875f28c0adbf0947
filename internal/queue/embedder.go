package queue

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
)

// QueuedEmbedder routes embed calls through the queue so the embedding
// backend sees at most `concurrency` in-flight requests with retry.
type QueuedEmbedder struct {
	inner    domain.Embedder
	queue    *Queue
	priority Priority
}

// NewQueuedEmbedder wraps inner with queue submission at the given priority.
func NewQueuedEmbedder(inner domain.Embedder, q *Queue, priority Priority) *QueuedEmbedder {
	return &QueuedEmbedder{inner: inner, queue: q, priority: priority}
}

// Embed implements domain.Embedder.
func (e *QueuedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var result domain.EmbeddingResult
	err := e.queue.Submit(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = e.inner.Embed(ctx, text)
		return opErr
	}, Options{Priority: e.priority})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return result, nil
}

// QueuedGenerator routes generation calls through the queue.
type QueuedGenerator struct {
	inner    domain.Generator
	queue    *Queue
	priority Priority
}

// NewQueuedGenerator wraps inner with queue submission at the given priority.
func NewQueuedGenerator(inner domain.Generator, q *Queue, priority Priority) *QueuedGenerator {
	return &QueuedGenerator{inner: inner, queue: q, priority: priority}
}

// Generate implements domain.Generator.
func (g *QueuedGenerator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	var text string
	err := g.queue.Submit(ctx, func(ctx context.Context) error {
		var opErr error
		text, opErr = g.inner.Generate(ctx, messages)
		return opErr
	}, Options{Priority: g.priority})
	if err != nil {
		return "", err
	}
	return text, nil
}
