package answer

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/session"
)

type fakeRetriever struct {
	retrieveFn func(ctx context.Context, query domain.Query, sess domain.Session) (retrieval.Result, error)
	calls      int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query domain.Query, sess domain.Session) (retrieval.Result, error) {
	f.calls++
	return f.retrieveFn(ctx, query, sess)
}

type fakeSynthesizer struct {
	answerFn func(ctx context.Context, query domain.Query, hits []domain.Hit) domain.Answer

	answerHits  []domain.Hit
	answerQuery domain.Query
	convCalls   int
}

func (f *fakeSynthesizer) Answer(ctx context.Context, query domain.Query, hits []domain.Hit) domain.Answer {
	f.answerHits = hits
	f.answerQuery = query
	if f.answerFn != nil {
		return f.answerFn(ctx, query, hits)
	}
	return domain.Answer{Text: "grounded", HasEvidence: len(hits) > 0}
}

func (f *fakeSynthesizer) Conversational(_ context.Context, _ domain.Query) domain.Answer {
	f.convCalls++
	return domain.Answer{Text: "hi there"}
}

func (f *fakeSynthesizer) Messages(query domain.Query, hits []domain.Hit) ([]domain.Message, []domain.Snippet) {
	f.answerHits = hits
	f.answerQuery = query
	snippets := make([]domain.Snippet, 0, len(hits))
	for i, h := range hits {
		snippets = append(snippets, domain.Snippet{
			Tag:         "T" + string(rune('1'+i)),
			Text:        h.Content,
			SourceLabel: h.SourceLabel,
			Score:       h.Score,
		})
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "grounded system"},
		{Role: domain.RoleUser, Content: query.Text},
	}, snippets
}

func (f *fakeSynthesizer) ConversationalMessages(query domain.Query) []domain.Message {
	f.convCalls++
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "conversational system"},
		{Role: domain.RoleUser, Content: query.Text},
	}
}

func resultWith(hits ...domain.Hit) func(context.Context, domain.Query, domain.Session) (retrieval.Result, error) {
	return func(context.Context, domain.Query, domain.Session) (retrieval.Result, error) {
		return retrieval.Result{Merged: hits}, nil
	}
}

func newTestService(r *fakeRetriever, s *fakeSynthesizer) (*Service, *session.Store) {
	store := session.NewStore(session.DefaultHistoryWindow)
	return New(r, s, store, Config{}), store
}
