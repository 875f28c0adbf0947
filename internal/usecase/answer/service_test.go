package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/retrieval"
)

func TestAskGreetingSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{retrieveFn: resultWith()}
	synth := &fakeSynthesizer{}
	svc, _ := newTestService(retriever, synth)

	got, err := svc.Ask(context.Background(), domain.Query{Text: "hello", SessionID: "m1"}, domain.Session{ID: "m1"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got.Text != "hi there" {
		t.Errorf("Text = %q, want conversational answer", got.Text)
	}
	if retriever.calls != 0 {
		t.Errorf("retriever called %d times for a greeting, want 0", retriever.calls)
	}
	if synth.convCalls != 1 {
		t.Errorf("Conversational called %d times, want 1", synth.convCalls)
	}
}

func TestAskGroundedPipeline(t *testing.T) {
	hits := []domain.Hit{
		{ID: "a", Score: 0.92, SourceLabel: "Meeting Transcript", Content: "we raise pricing in June"},
		{ID: "b", Score: 0.45, SourceLabel: "notes.md", Content: "low relevance noise"},
		{ID: "c", Score: 0.80, SourceLabel: "Meeting Transcript", Content: "we raise pricing in June"},
	}
	retriever := &fakeRetriever{retrieveFn: resultWith(hits...)}
	synth := &fakeSynthesizer{
		answerFn: func(_ context.Context, _ domain.Query, hits []domain.Hit) domain.Answer {
			return domain.Answer{Text: "Pricing goes up in June.", HasEvidence: true, Sources: []string{"Meeting Transcript"}}
		},
	}
	svc, store := newTestService(retriever, synth)

	got, err := svc.Ask(context.Background(), domain.Query{Text: "what did we decide about pricing", SessionID: "m1"}, domain.Session{ID: "m1"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	// Duplicate content collapsed, sub-threshold hit dropped.
	if len(synth.answerHits) != 1 || synth.answerHits[0].ID != "a" {
		t.Fatalf("synthesizer saw hits %+v, want only the top deduped hit", synth.answerHits)
	}
	if !got.HasEvidence {
		t.Error("HasEvidence = false, want true")
	}

	// Both turns recorded.
	history := store.History("m1")
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Errorf("history roles = %s/%s, want user/assistant", history[0].Role, history[1].Role)
	}
	if history[1].Content != "Pricing goes up in June." {
		t.Errorf("recorded answer = %q", history[1].Content)
	}
}

func TestAskTranscriptFallbackReachesSynthesis(t *testing.T) {
	fallback := domain.Hit{
		ID:          "transcript-fallback",
		Score:       0.3,
		SourceLabel: "Meeting Transcript",
		Content:     "Alice: we ship in June.",
		Namespace:   "transcript-m1",
		Pinned:      true,
	}
	retriever := &fakeRetriever{retrieveFn: resultWith(fallback)}
	synth := &fakeSynthesizer{}
	svc, _ := newTestService(retriever, synth)

	got, err := svc.Ask(context.Background(),
		domain.Query{Text: "summarize the meeting", SessionID: "m1"},
		domain.Session{ID: "m1", Transcript: "Alice: we ship in June."})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	// The fallback scores under the relevance floor yet must survive it.
	if len(synth.answerHits) != 1 || synth.answerHits[0].ID != "transcript-fallback" {
		t.Fatalf("synthesizer received %v, want the transcript pseudo-hit", synth.answerHits)
	}
	if !got.HasEvidence {
		t.Error("HasEvidence = false, want true")
	}
}

func TestAskThreadsStoredHistory(t *testing.T) {
	retriever := &fakeRetriever{retrieveFn: resultWith()}
	synth := &fakeSynthesizer{}
	svc, store := newTestService(retriever, synth)

	store.Append("m1", domain.Message{Role: domain.RoleUser, Content: "earlier question"})
	store.Append("m1", domain.Message{Role: domain.RoleAssistant, Content: "earlier answer"})

	_, err := svc.Ask(context.Background(), domain.Query{Text: "and what about the budget review", SessionID: "m1"}, domain.Session{ID: "m1"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if len(synth.answerQuery.History) != 2 {
		t.Fatalf("query carried %d history messages, want 2", len(synth.answerQuery.History))
	}
	if synth.answerQuery.History[0].Content != "earlier question" {
		t.Errorf("history[0] = %q", synth.answerQuery.History[0].Content)
	}
}

func TestAskRetrievalErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{
		retrieveFn: func(context.Context, domain.Query, domain.Session) (retrieval.Result, error) {
			return retrieval.Result{}, domain.ErrSuperseded
		},
	}
	svc, store := newTestService(retriever, &fakeSynthesizer{})

	_, err := svc.Ask(context.Background(), domain.Query{Text: "what is the roadmap status", SessionID: "m1"}, domain.Session{ID: "m1"})
	if !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("Ask() error = %v, want ErrSuperseded", err)
	}
	if len(store.History("m1")) != 0 {
		t.Error("superseded exchange must not be recorded to history")
	}
}

func TestPrepareGroundedStreamingPrompt(t *testing.T) {
	hits := []domain.Hit{
		{ID: "a", Score: 0.9, SourceLabel: "budget.xlsx", Content: "q3 spend is flat"},
		{ID: "b", Score: 0.8, SourceLabel: "budget.xlsx", Content: "hiring paused"},
	}
	retriever := &fakeRetriever{retrieveFn: resultWith(hits...)}
	svc, _ := newTestService(retriever, &fakeSynthesizer{})

	got, err := svc.Prepare(context.Background(), domain.Query{Text: "summarize the budget spreadsheet", SessionID: "m1"}, domain.Session{ID: "m1"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if got.Conversational {
		t.Error("Conversational = true for a document query")
	}
	if !got.HasEvidence || len(got.Snippets) != 2 {
		t.Fatalf("HasEvidence=%v snippets=%d, want evidence with 2 snippets", got.HasEvidence, len(got.Snippets))
	}
	if len(got.Sources) != 1 || got.Sources[0] != "budget.xlsx" {
		t.Errorf("Sources = %v, want deduplicated [budget.xlsx]", got.Sources)
	}
	if len(got.Messages) == 0 || got.Messages[0].Role != domain.RoleSystem {
		t.Errorf("Messages = %+v, want system prompt first", got.Messages)
	}
}

func TestPrepareConversational(t *testing.T) {
	retriever := &fakeRetriever{retrieveFn: resultWith()}
	svc, _ := newTestService(retriever, &fakeSynthesizer{})

	got, err := svc.Prepare(context.Background(), domain.Query{Text: "thanks!", SessionID: "m1"}, domain.Session{ID: "m1"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if !got.Conversational {
		t.Error("Conversational = false for a greeting")
	}
	if got.HasEvidence || len(got.Snippets) != 0 {
		t.Errorf("greeting prepared with evidence: %+v", got.Snippets)
	}
	if retriever.calls != 0 {
		t.Errorf("retriever called %d times for a greeting, want 0", retriever.calls)
	}
}

func TestRecordExchange(t *testing.T) {
	svc, store := newTestService(&fakeRetriever{retrieveFn: resultWith()}, &fakeSynthesizer{})

	svc.RecordExchange("m2", "what happened", "nothing much")

	history := store.History("m2")
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Content != "what happened" || history[1].Content != "nothing much" {
		t.Errorf("history = %+v", history)
	}
}
