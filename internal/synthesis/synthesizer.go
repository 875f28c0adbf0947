// Package synthesis turns ranked retrieval hits into a grounded answer:
// it trims hits to query-relevant sentences, tags the survivors as
// evidence, and drives the language model under a strict grounding
// contract.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
)

// Defaults for the synthesis thresholds.
const (
	DefaultFastHitThreshold = 0.88
	DefaultMinSnippetScore  = 0.7
	DefaultMaxSnippets      = 12
	DefaultMaxSentences     = 4
)

const groundedSystemPrompt = `You are a meeting assistant. Answer the user's question using ONLY the tagged evidence snippets below.

Rules:
- Synthesize a clear, concise answer in your own words; never copy snippets verbatim.
- If snippets conflict, silently prefer the most specific one; do not mention the conflict.
- NEVER show the snippet tags (T1, T2, ...) or any bracketed citations in your answer.
- If the evidence does not answer the question, say you don't have that information in the synced documents.

Evidence:
%s`

const noEvidenceSystemPrompt = `You are a meeting assistant. No relevant documents were found for this question. Answer briefly from general knowledge, and mention that syncing meeting documents would let you give a grounded answer.`

const conversationalSystemPrompt = `You are a meeting assistant that answers questions about synced documents, meeting transcripts, and web pages. Respond naturally and briefly.`

// FallbackAnswer is returned when the language model call itself fails.
const FallbackAnswer = "Sorry, I ran into a problem while putting your answer together. Please try again in a moment."

// Config tunes the synthesizer.
type Config struct {
	FastHitThreshold float64
	MinSnippetScore  float64
	MaxSnippets      int
	MaxKeywords      int
	MaxSentences     int
}

func (c Config) withDefaults() Config {
	if c.FastHitThreshold <= 0 {
		c.FastHitThreshold = DefaultFastHitThreshold
	}
	if c.MinSnippetScore <= 0 {
		c.MinSnippetScore = DefaultMinSnippetScore
	}
	if c.MaxSnippets <= 0 {
		c.MaxSnippets = DefaultMaxSnippets
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = DefaultMaxKeywords
	}
	if c.MaxSentences <= 0 {
		c.MaxSentences = DefaultMaxSentences
	}
	return c
}

// Synthesizer produces grounded answers from retrieval hits.
type Synthesizer struct {
	gen    domain.Generator
	cfg    Config
	logger *zap.Logger
}

// New creates a synthesizer over a generation backend.
func New(gen domain.Generator, cfg Config, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{gen: gen, cfg: cfg.withDefaults(), logger: logger}
}

// Answer generates a grounded answer for query from hits. It never
// returns an error: generation failures degrade to a static fallback.
func (s *Synthesizer) Answer(ctx context.Context, query domain.Query, hits []domain.Hit) domain.Answer {
	keywords := Keywords(query.Text, s.cfg.MaxKeywords)
	snippets := s.BuildSnippets(hits, keywords)

	if len(snippets) == 0 {
		return s.generate(ctx, noEvidenceSystemPrompt, query, nil)
	}

	system := fmt.Sprintf(groundedSystemPrompt, formatEvidence(snippets))
	return s.generate(ctx, system, query, snippets)
}

// Conversational answers greeting/meta queries without any evidence.
func (s *Synthesizer) Conversational(ctx context.Context, query domain.Query) domain.Answer {
	return s.generate(ctx, conversationalSystemPrompt, query, nil)
}

// BuildSnippets trims hits into tagged evidence. A hit above the fast-hit
// threshold short-circuits the set to itself: one high-confidence source
// beats a merged pile. Otherwise hits below the minimum score are dropped,
// each survivor is trimmed to its most relevant sentences, and the result
// is capped and tagged T1..Tn. Pinned hits bypass the score floor and
// fall back to their untrimmed content, so a synthetic transcript hit
// always reaches the prompt.
func (s *Synthesizer) BuildSnippets(hits []domain.Hit, keywords []string) []domain.Snippet {
	if best := bestHit(hits); best != nil && best.Score >= s.cfg.FastHitThreshold {
		text := TrimContent(best.Content, keywords, s.cfg.MaxSentences)
		if text == "" {
			text = best.Content
		}
		return []domain.Snippet{{
			Tag:         "T1",
			Text:        text,
			SourceLabel: best.SourceLabel,
			Score:       best.Score,
		}}
	}

	snippets := make([]domain.Snippet, 0, len(hits))
	for _, h := range hits {
		if !h.Pinned && h.Score < s.cfg.MinSnippetScore {
			continue
		}
		text := TrimContent(h.Content, keywords, s.cfg.MaxSentences)
		if text == "" {
			if !h.Pinned {
				continue
			}
			text = h.Content
		}
		snippets = append(snippets, domain.Snippet{
			Text:        text,
			SourceLabel: h.SourceLabel,
			Score:       h.Score,
		})
		if len(snippets) == s.cfg.MaxSnippets {
			break
		}
	}

	for i := range snippets {
		snippets[i].Tag = fmt.Sprintf("T%d", i+1)
	}
	return snippets
}

func (s *Synthesizer) generate(ctx context.Context, system string, query domain.Query, snippets []domain.Snippet) domain.Answer {
	messages := buildMessages(system, query)
	hasEvidence := len(snippets) > 0

	text, err := s.gen.Generate(ctx, messages)
	if err != nil {
		s.logger.Warn("generation failed, degrading to fallback",
			zap.Bool("has_evidence", hasEvidence),
			zap.Error(err),
		)
		return domain.Answer{Text: FallbackAnswer, HasEvidence: hasEvidence, Sources: sourceLabels(snippets)}
	}

	return domain.Answer{
		Text:        strings.TrimSpace(text),
		HasEvidence: hasEvidence,
		Sources:     sourceLabels(snippets),
	}
}

// Messages exposes the grounded prompt assembly for the streaming path,
// which needs the message list rather than a finished answer.
func (s *Synthesizer) Messages(query domain.Query, hits []domain.Hit) ([]domain.Message, []domain.Snippet) {
	keywords := Keywords(query.Text, s.cfg.MaxKeywords)
	snippets := s.BuildSnippets(hits, keywords)

	system := noEvidenceSystemPrompt
	if len(snippets) > 0 {
		system = fmt.Sprintf(groundedSystemPrompt, formatEvidence(snippets))
	}

	return buildMessages(system, query), snippets
}

// ConversationalMessages builds the streaming prompt for greeting and
// meta queries, which carry no evidence.
func (s *Synthesizer) ConversationalMessages(query domain.Query) []domain.Message {
	return buildMessages(conversationalSystemPrompt, query)
}

func buildMessages(system string, query domain.Query) []domain.Message {
	messages := make([]domain.Message, 0, len(query.History)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	messages = append(messages, query.History...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: query.Text})
	return messages
}

func formatEvidence(snippets []domain.Snippet) string {
	var sb strings.Builder
	for _, sn := range snippets {
		fmt.Fprintf(&sb, "[%s] (%s) %s\n", sn.Tag, sn.SourceLabel, sn.Text)
	}
	return sb.String()
}

// sourceLabels returns the deduplicated labels, preserving snippet order.
func sourceLabels(snippets []domain.Snippet) []string {
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

func bestHit(hits []domain.Hit) *domain.Hit {
	var best *domain.Hit
	for i := range hits {
		if best == nil || hits[i].Score > best.Score {
			best = &hits[i]
		}
	}
	return best
}
