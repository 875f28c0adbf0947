package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
)

func newTestSynthesizer(gen domain.Generator) *Synthesizer {
	return New(gen, Config{}, zap.NewNop())
}

func TestAnswer_GroundedPath(t *testing.T) {
	gen := &fakeGenerator{answer: "The team decided to raise pricing by ten percent."}
	s := newTestSynthesizer(gen)

	hits := []domain.Hit{
		{ID: "c1", Score: 0.8, SourceLabel: "Meeting Transcript", Content: "We agreed to raise pricing by ten percent. Lunch was fine."},
		{ID: "c2", Score: 0.75, SourceLabel: "budget.xlsx", Content: "Pricing assumptions for next quarter are listed below."},
	}

	answer := s.Answer(context.Background(), domain.Query{Text: "what did we decide about pricing"}, hits)

	if !answer.HasEvidence {
		t.Error("HasEvidence = false, want true")
	}
	if answer.Text != "The team decided to raise pricing by ten percent." {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(answer.Sources) != 2 || answer.Sources[0] != "Meeting Transcript" || answer.Sources[1] != "budget.xlsx" {
		t.Errorf("Sources = %v", answer.Sources)
	}

	system := gen.messages[0]
	if system.Role != domain.RoleSystem {
		t.Fatalf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Content, "[T1]") || !strings.Contains(system.Content, "[T2]") {
		t.Errorf("system prompt missing evidence tags:\n%s", system.Content)
	}
	if !strings.Contains(system.Content, "NEVER show the snippet tags") {
		t.Errorf("system prompt missing grounding contract")
	}
}

func TestAnswer_FastHitShortCircuits(t *testing.T) {
	gen := &fakeGenerator{answer: "answer"}
	s := newTestSynthesizer(gen)

	hits := []domain.Hit{
		{ID: "weak", Score: 0.72, SourceLabel: "notes.md", Content: "Pricing was mentioned in passing."},
		{ID: "strong", Score: 0.92, SourceLabel: "Meeting Transcript", Content: "We agreed to raise pricing by ten percent."},
	}

	answer := s.Answer(context.Background(), domain.Query{Text: "what about pricing"}, hits)

	if len(answer.Sources) != 1 || answer.Sources[0] != "Meeting Transcript" {
		t.Errorf("Sources = %v, want only the fast hit", answer.Sources)
	}
	if strings.Contains(gen.messages[0].Content, "notes.md") {
		t.Error("weak hit leaked into the evidence block")
	}
}

func TestAnswer_NoEvidenceFallsBackToGeneralKnowledge(t *testing.T) {
	gen := &fakeGenerator{answer: "I don't have synced documents about that."}
	s := newTestSynthesizer(gen)

	answer := s.Answer(context.Background(), domain.Query{Text: "what is our churn rate"}, nil)

	if answer.HasEvidence {
		t.Error("HasEvidence = true, want false")
	}
	if len(answer.Sources) != 0 {
		t.Errorf("Sources = %v, want empty", answer.Sources)
	}
	if !strings.Contains(gen.messages[0].Content, "No relevant documents were found") {
		t.Errorf("system prompt = %q", gen.messages[0].Content)
	}
}

func TestAnswer_LowScoreHitsYieldNoEvidence(t *testing.T) {
	gen := &fakeGenerator{answer: "general answer"}
	s := newTestSynthesizer(gen)

	hits := []domain.Hit{
		{ID: "c1", Score: 0.3, SourceLabel: "notes.md", Content: "Barely related content about pricing."},
	}
	answer := s.Answer(context.Background(), domain.Query{Text: "pricing"}, hits)

	if answer.HasEvidence {
		t.Error("HasEvidence = true, want false for below-threshold hits")
	}
}

func TestAnswer_GenerationFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	s := newTestSynthesizer(gen)

	hits := []domain.Hit{
		{ID: "c1", Score: 0.9, SourceLabel: "Meeting Transcript", Content: "We discussed the budget today."},
	}
	answer := s.Answer(context.Background(), domain.Query{Text: "budget"}, hits)

	if answer.Text != FallbackAnswer {
		t.Errorf("Text = %q, want fallback", answer.Text)
	}
	if !answer.HasEvidence {
		t.Error("HasEvidence should survive a generation failure")
	}
}

func TestAnswer_IncludesHistory(t *testing.T) {
	gen := &fakeGenerator{answer: "answer"}
	s := newTestSynthesizer(gen)

	query := domain.Query{
		Text: "and what about next quarter",
		History: []domain.Message{
			{Role: domain.RoleUser, Content: "what did we decide about pricing"},
			{Role: domain.RoleAssistant, Content: "You raised pricing by ten percent."},
		},
	}
	s.Answer(context.Background(), query, nil)

	if len(gen.messages) != 4 {
		t.Fatalf("got %d messages, want system + 2 history + user", len(gen.messages))
	}
	if gen.messages[1].Content != "what did we decide about pricing" {
		t.Errorf("history not threaded: %v", gen.messages[1])
	}
	if gen.messages[3].Role != domain.RoleUser || gen.messages[3].Content != "and what about next quarter" {
		t.Errorf("last message = %v", gen.messages[3])
	}
}

func TestBuildSnippets_CapsAndTags(t *testing.T) {
	s := New(&fakeGenerator{}, Config{MaxSnippets: 2, MinSnippetScore: 0.5}, zap.NewNop())

	hits := []domain.Hit{
		{ID: "a", Score: 0.8, SourceLabel: "s1", Content: "Budget detail one."},
		{ID: "b", Score: 0.7, SourceLabel: "s2", Content: "Budget detail two."},
		{ID: "c", Score: 0.6, SourceLabel: "s3", Content: "Budget detail three."},
	}
	snippets := s.BuildSnippets(hits, []string{"budget"})

	if len(snippets) != 2 {
		t.Fatalf("got %d snippets, want 2 (capped)", len(snippets))
	}
	if snippets[0].Tag != "T1" || snippets[1].Tag != "T2" {
		t.Errorf("tags = %s, %s", snippets[0].Tag, snippets[1].Tag)
	}
}

func TestBuildSnippets_DropsUntrimmableHits(t *testing.T) {
	s := newTestSynthesizer(&fakeGenerator{})

	hits := []domain.Hit{
		{ID: "a", Score: 0.8, SourceLabel: "s1", Content: "Nothing relevant here. Or here. Still nothing. More filler."},
	}
	if snippets := s.BuildSnippets(hits, []string{"pricing"}); len(snippets) != 0 {
		t.Errorf("got %d snippets, want 0 for no keyword overlap", len(snippets))
	}
}

func TestBuildSnippets_PinnedHitBypassesFloor(t *testing.T) {
	s := newTestSynthesizer(&fakeGenerator{})

	hits := []domain.Hit{
		{
			ID:          "transcript-fallback",
			Score:       0.3,
			SourceLabel: "Meeting Transcript",
			Content:     "Alice opened the call. Bob walked through the roadmap. The group adjourned.",
			Pinned:      true,
		},
	}
	// Keywords miss the transcript entirely; the pinned hit must still
	// contribute its raw content.
	snippets := s.BuildSnippets(hits, []string{"pricing"})
	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snippets))
	}
	if snippets[0].SourceLabel != "Meeting Transcript" {
		t.Errorf("SourceLabel = %q", snippets[0].SourceLabel)
	}
	if !strings.Contains(snippets[0].Text, "walked through the roadmap") {
		t.Errorf("snippet text = %q, want untrimmed transcript", snippets[0].Text)
	}
}

func TestAnswer_PinnedTranscriptGroundsTheAnswer(t *testing.T) {
	gen := &fakeGenerator{answer: "The group reviewed the roadmap and adjourned."}
	s := newTestSynthesizer(gen)

	hits := []domain.Hit{
		{ID: "transcript-fallback", Score: 0.3, SourceLabel: "Meeting Transcript", Content: "Bob walked through the roadmap.", Pinned: true},
	}
	answer := s.Answer(context.Background(), domain.Query{Text: "summarize the meeting"}, hits)

	if !answer.HasEvidence {
		t.Error("HasEvidence = false, want true")
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "Meeting Transcript" {
		t.Errorf("Sources = %v", answer.Sources)
	}
	if !strings.Contains(gen.messages[0].Content, "walked through the roadmap") {
		t.Errorf("system prompt missing transcript evidence:\n%s", gen.messages[0].Content)
	}
}

func TestConversational_NoEvidence(t *testing.T) {
	gen := &fakeGenerator{answer: "Hi! Ask me about your meeting."}
	s := newTestSynthesizer(gen)

	answer := s.Conversational(context.Background(), domain.Query{Text: "hello"})
	if answer.HasEvidence {
		t.Error("HasEvidence = true, want false")
	}
	if answer.Text != "Hi! Ask me about your meeting." {
		t.Errorf("Text = %q", answer.Text)
	}
}
