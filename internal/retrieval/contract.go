package retrieval

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
)

// Searcher is the consumer interface over the vector store (ISP).
type Searcher interface {
	Search(ctx context.Context, vector []float32, namespace string, topK int) ([]domain.Hit, error)
}

// Result is the output of one retrieval: raw hits grouped by namespace
// plus the flat merged list, unranked.
type Result struct {
	HitsByNamespace map[string][]domain.Hit
	Merged          []domain.Hit
}
