package domain

import "strings"

// Hit is one retrieved unit from a namespace search. Ephemeral, produced
// per-query, never persisted.
type Hit struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"` // always in [0,1]
	SourceLabel string  `json:"sourceLabel"`
	Content     string  `json:"content"`
	Namespace   string  `json:"namespace"`

	// Pinned exempts the hit from relevance floors downstream. Set on
	// synthetic hits whose score is a confidence statement, not a
	// similarity measurement.
	Pinned bool `json:"-"`
}

// Snippet is a relevance-trimmed, tagged excerpt of a single Hit, used as
// generation evidence within one synthesis call.
type Snippet struct {
	Tag         string
	Text        string
	SourceLabel string
	Score       float64
}

// Answer is the final grounded (or fallback) response.
type Answer struct {
	Text        string   `json:"answerText"`
	HasEvidence bool     `json:"hasEvidence"`
	Sources     []string `json:"sourceLabels"`
}

// ClampScore forces a relevance score into [0,1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// NormalizeHit collapses the heterogeneous shapes different sources produce
// (content vs metadata.content, score vs similarity) into one Hit.
// candidates for the source label are tried in order via CleanSourceLabel.
func NormalizeHit(id string, score, similarity float64, content, metaContent, namespace string, labelCandidates ...string) Hit {
	if score == 0 && similarity != 0 {
		score = similarity
	}
	if content == "" {
		content = metaContent
	}
	return Hit{
		ID:          id,
		Score:       ClampScore(score),
		SourceLabel: CleanSourceLabel(labelCandidates...),
		Content:     content,
		Namespace:   namespace,
	}
}

// CleanSourceLabel picks the first usable human-readable origin from the
// candidates (typically filename, title, name in that order). URLs and
// "unknown" placeholders never win; the fallback is "Document".
func CleanSourceLabel(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.HasPrefix(c, "http://") || strings.HasPrefix(c, "https://") {
			continue
		}
		if strings.EqualFold(c, "unknown") {
			continue
		}
		return c
	}
	return "Document"
}
