package synthesis

import (
	"sort"
	"strings"
)

const minKeptSentences = 2

// TrimContent reduces content to at most maxSentences of its most
// query-relevant sentences. Sentences are scored by keyword overlap; the
// top scorers are kept in their original order. Returns "" when nothing
// overlaps at all, which callers treat as "this hit contributes no
// evidence".
func TrimContent(content string, keywords []string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) <= minKeptSentences {
		if scoreSentences(sentences, keywords) == 0 {
			return ""
		}
		return strings.Join(sentences, " ")
	}

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		ranked = append(ranked, scored{index: i, score: sentenceScore(s, keywords)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if ranked[0].score == 0 {
		return ""
	}

	keep := maxSentences
	if keep < minKeptSentences {
		keep = minKeptSentences
	}
	if keep > len(ranked) {
		keep = len(ranked)
	}
	// Always carry at least the minimum so the passage keeps some context
	// around the single best sentence.
	picked := make([]int, 0, keep)
	for _, r := range ranked[:keep] {
		if r.score == 0 && len(picked) >= minKeptSentences {
			break
		}
		picked = append(picked, r.index)
	}
	sort.Ints(picked)

	parts := make([]string, 0, len(picked))
	for _, i := range picked {
		parts = append(parts, sentences[i])
	}
	return strings.Join(parts, " ")
}

// sentenceScore counts how many distinct keywords appear in the sentence.
func sentenceScore(sentence string, keywords []string) int {
	lower := strings.ToLower(sentence)
	score := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	return score
}

func scoreSentences(sentences []string, keywords []string) int {
	total := 0
	for _, s := range sentences {
		total += sentenceScore(s, keywords)
	}
	return total
}

// splitSentences breaks text on sentence terminators, dropping blanks.
func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		s := strings.TrimSpace(sb.String())
		if s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}

	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush()
		}
	}
	flush()
	return out
}
