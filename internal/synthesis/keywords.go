package synthesis

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxKeywords caps how many query keywords drive sentence scoring.
const DefaultMaxKeywords = 12

var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {},
	"but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {},
	"does": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "how": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "just": {}, "me": {},
	"my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"our": {}, "she": {}, "so": {}, "some": {}, "tell": {}, "that": {},
	"the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "to": {}, "us": {}, "was": {},
	"we": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "would": {},
	"you": {}, "your": {},
}

// Keywords extracts up to max salient terms from text: lower-cased
// alphanumeric tokens with stop-words removed, ranked by frequency and
// stable by first appearance within equal frequency.
func Keywords(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxKeywords
	}

	counts := make(map[string]int)
	firstSeen := make(map[string]int)

	for i, tok := range tokenize(text) {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		counts[tok]++
		if _, ok := firstSeen[tok]; !ok {
			firstSeen[tok] = i
		}
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return firstSeen[terms[i]] < firstSeen[terms[j]]
	})

	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

// tokenize lower-cases text and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
