// Package answer runs the full question pipeline: intent fast path,
// retrieval fan-out, rank hygiene, and grounded synthesis, with session
// history threaded through generation.
package answer

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/rank"
)

// DefaultMinScore is the relevance floor below which hits are discarded
// before synthesis.
const DefaultMinScore = 0.5

// Config tunes the answer pipeline.
type Config struct {
	MinScore float64
}

func (c Config) withDefaults() Config {
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	return c
}

// Service handles question answering over the retrieval pipeline.
type Service struct {
	retriever Retriever
	synth     Synthesizer
	history   History
	cfg       Config
}

// New creates an answer service.
func New(retriever Retriever, synth Synthesizer, history History, cfg Config) *Service {
	return &Service{
		retriever: retriever,
		synth:     synth,
		history:   history,
		cfg:       cfg.withDefaults(),
	}
}

// Ask answers a query end to end. Greeting and meta queries skip
// retrieval entirely; everything else is grounded in retrieved evidence.
// The exchange is recorded to session history on success.
func (s *Service) Ask(ctx context.Context, query domain.Query, session domain.Session) (domain.Answer, error) {
	query = s.withHistory(query)

	if intent.Classify(query.Text) != intent.Document {
		answer := s.synth.Conversational(ctx, query)
		s.record(query, answer.Text)
		return answer, nil
	}

	result, err := s.retriever.Retrieve(ctx, query, session)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("retrieve: %w", err)
	}

	hits := s.rankHits(result.Merged)
	answer := s.synth.Answer(ctx, query, hits)
	s.record(query, answer.Text)
	return answer, nil
}

// Prepared is the prompt assembly for a streaming answer. When
// Conversational is set the messages carry no evidence and Sources is
// empty.
type Prepared struct {
	Messages       []domain.Message
	Snippets       []domain.Snippet
	Sources        []string
	HasEvidence    bool
	Conversational bool
}

// Prepare assembles the generation prompt without running generation, for
// callers that stream tokens themselves. Record the exchange with
// RecordExchange once streaming finishes.
func (s *Service) Prepare(ctx context.Context, query domain.Query, session domain.Session) (Prepared, error) {
	query = s.withHistory(query)

	if intent.Classify(query.Text) != intent.Document {
		return Prepared{Messages: s.synth.ConversationalMessages(query), Conversational: true}, nil
	}

	result, err := s.retriever.Retrieve(ctx, query, session)
	if err != nil {
		return Prepared{}, fmt.Errorf("retrieve: %w", err)
	}

	hits := s.rankHits(result.Merged)
	messages, snippets := s.synth.Messages(query, hits)
	return Prepared{
		Messages:    messages,
		Snippets:    snippets,
		Sources:     snippetSources(snippets),
		HasEvidence: len(snippets) > 0,
	}, nil
}

// RecordExchange persists one user/assistant turn to session history.
func (s *Service) RecordExchange(sessionID, userText, answerText string) {
	s.history.Append(sessionID, domain.Message{Role: domain.RoleUser, Content: userText})
	s.history.Append(sessionID, domain.Message{Role: domain.RoleAssistant, Content: answerText})
}

func (s *Service) withHistory(query domain.Query) domain.Query {
	if len(query.History) == 0 {
		query.History = s.history.History(query.SessionID)
	}
	return query
}

func (s *Service) rankHits(merged []domain.Hit) []domain.Hit {
	return rank.FilterByThreshold(rank.Dedupe(merged), s.cfg.MinScore)
}

func (s *Service) record(query domain.Query, answerText string) {
	s.RecordExchange(query.SessionID, query.Text, answerText)
}

func snippetSources(snippets []domain.Snippet) []string {
	seen := make(map[string]struct{}, len(snippets))
	out := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		if sn.SourceLabel == "" {
			continue
		}
		if _, ok := seen[sn.SourceLabel]; ok {
			continue
		}
		seen[sn.SourceLabel] = struct{}{}
		out = append(out, sn.SourceLabel)
	}
	return out
}
