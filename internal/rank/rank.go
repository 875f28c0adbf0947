// Package rank merges, deduplicates and reorders retrieval hits before they
// reach answer synthesis.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/domain"
)

// dedupePrefixLen bounds how much content participates in the duplicate key.
// Long documents chunked with overlap share their opening characters, so a
// short prefix collapses them without hashing whole passages.
const dedupePrefixLen = 120

// Dedupe collapses near-duplicate hits. Two hits are duplicates when they
// share a source label and the leading characters of their content. The
// first occurrence wins. Survivors are returned sorted by score descending.
func Dedupe(hits []domain.Hit) []domain.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]domain.Hit, 0, len(hits))
	for _, h := range hits {
		key := h.SourceLabel + "|" + contentPrefix(h.Content)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// FilterByThreshold drops hits scoring below min. Pinned hits pass
// regardless of score.
func FilterByThreshold(hits []domain.Hit, min float64) []domain.Hit {
	out := make([]domain.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Pinned || h.Score >= min {
			out = append(out, h)
		}
	}
	return out
}

func contentPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > dedupePrefixLen {
		return s[:dedupePrefixLen]
	}
	return s
}

// FuzzySimilarity returns 1 - editDistance/maxLen over the two strings,
// case-insensitive. Identical strings score 1.0, fully disjoint strings 0.
func FuzzySimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(editDistance(ra, rb))/float64(maxLen)
}

// editDistance is the Levenshtein distance with a two-row table.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// RecencyWeight maps a modification time to a multiplicative boost in
// (1, 2]. A document modified now weighs ~2x, decaying toward 1x with a
// 30-day half-life-ish curve. The zero time gets no boost.
func RecencyWeight(modified time.Time, now time.Time) float64 {
	if modified.IsZero() {
		return 1.0
	}
	ageDays := now.Sub(modified).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1.0 + math.Exp(-ageDays/30)
}

// Candidate is a named item scored by RankByName, typically a filename.
type Candidate struct {
	Name     string
	Modified time.Time
}

// RankedCandidate pairs a candidate with its blended score.
type RankedCandidate struct {
	Candidate
	Score float64
}

// RankByName orders candidates by how closely their names match query.
// An exact substring match scores 1.0 outright; otherwise fuzzy string
// similarity is blended multiplicatively with the recency weight so fresher
// documents win ties.
func RankByName(query string, candidates []Candidate, now time.Time) []RankedCandidate {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		name := strings.ToLower(c.Name)
		var score float64
		if q != "" && strings.Contains(name, q) {
			score = 1.0
		} else {
			score = FuzzySimilarity(q, name) * RecencyWeight(c.Modified, now)
		}
		out = append(out, RankedCandidate{Candidate: c, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
