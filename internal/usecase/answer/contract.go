package answer

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/retrieval"
)

// Retriever fans a query out across namespaces and merges the hits.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.Query, session domain.Session) (retrieval.Result, error)
}

// Synthesizer turns ranked hits into a grounded answer, or a prompt for
// the streaming path.
type Synthesizer interface {
	Answer(ctx context.Context, query domain.Query, hits []domain.Hit) domain.Answer
	Conversational(ctx context.Context, query domain.Query) domain.Answer
	Messages(query domain.Query, hits []domain.Hit) ([]domain.Message, []domain.Snippet)
	ConversationalMessages(query domain.Query) []domain.Message
}

// History reads and records per-session conversation state.
type History interface {
	History(sessionID string) []domain.Message
	Append(sessionID string, msg domain.Message)
}
