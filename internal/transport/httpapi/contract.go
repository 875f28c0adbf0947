package httpapi

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/embcache"
	"github.com/parleyhq/parley/internal/queue"
	"github.com/parleyhq/parley/internal/repository/vectors"
	"github.com/parleyhq/parley/internal/transport/serp"
	"github.com/parleyhq/parley/internal/usecase/answer"
)

// Answerer runs the question pipeline.
type Answerer interface {
	Ask(ctx context.Context, query domain.Query, session domain.Session) (domain.Answer, error)
	Prepare(ctx context.Context, query domain.Query, session domain.Session) (answer.Prepared, error)
	RecordExchange(sessionID, userText, answerText string)
}

// Streamer emits generation tokens as they arrive.
type Streamer interface {
	Stream(ctx context.Context, messages []domain.Message, onToken func(token string) error) error
}

// VectorStore is the namespace vector repository surface the API exposes.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vecs []vectors.Vector) (int, error)
	Search(ctx context.Context, vector []float32, namespace string, topK int) ([]domain.Hit, error)
	Delete(ctx context.Context, namespace string, ids []string) (int, error)
	Stats(ctx context.Context) (vectors.Stats, error)
}

// WebSearcher proxies an external search engine.
type WebSearcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) ([]serp.Result, error)
}

// Memory reads and clears per-session conversation history.
type Memory interface {
	History(sessionID string) []domain.Message
	Clear(sessionID string)
	Len() int
}

// CacheStatser reports embedding cache statistics.
type CacheStatser interface {
	Stats() embcache.Stats
}

// QueueStatser reports request queue statistics.
type QueueStatser interface {
	Stats() queue.Stats
}

// Pinger checks storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker probes the model provider for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
