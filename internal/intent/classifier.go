// Package intent classifies queries before retrieval: conversational
// queries skip the pipeline entirely, and lexical source cues narrow which
// namespaces are searched. Both classifiers are pure and never fail --
// absence of a match is itself a valid outcome.
package intent

import (
	"regexp"
	"strings"
)

// Intent is the conversational category of a query.
type Intent string

const (
	// Greeting covers salutations and acknowledgments; answered without retrieval.
	Greeting Intent = "greeting"
	// Meta covers capability and identity questions about the assistant.
	Meta Intent = "meta"
	// Document is everything else: a real question to ground in evidence.
	Document Intent = "document"
)

// Source is the namespace scope a query's wording asks for.
type Source string

const (
	// TranscriptOnly restricts search to the meeting transcript namespace.
	TranscriptOnly Source = "transcriptOnly"
	// FilesOnly restricts search to the drive-files namespace.
	FilesOnly Source = "filesOnly"
	// BothMentioned means transcript and file cues are both present; search everything.
	BothMentioned Source = "bothMentioned"
	// SearchBoth means no cue matched; search everything at lowest confidence.
	SearchBoth Source = "searchBoth"
)

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hi|hello|hey|yo|howdy)\b.{0,20}$`),
	regexp.MustCompile(`^good (morning|afternoon|evening|night)\b.{0,20}$`),
	regexp.MustCompile(`^(thanks|thank you|thx|ty)\b.{0,30}$`),
	regexp.MustCompile(`^(ok|okay|sure|got it|sounds good|great|cool|nice)\W*$`),
	regexp.MustCompile(`^(bye|goodbye|see you|later)\b.{0,20}$`),
}

var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^who are you\b`),
	regexp.MustCompile(`^what are you\b`),
	regexp.MustCompile(`^what('?s| is) your name\b`),
	regexp.MustCompile(`^what can you do\b`),
	regexp.MustCompile(`^(how do|how can) (i|you) (use|help)\b`),
	regexp.MustCompile(`^help\W*$`),
	regexp.MustCompile(`^(can|could) you help\b`),
}

// Classify buckets a query as greeting, meta, or document.
func Classify(query string) Intent {
	q := normalize(query)
	if q == "" {
		return Greeting
	}
	for _, p := range greetingPatterns {
		if p.MatchString(q) {
			return Greeting
		}
	}
	for _, p := range metaPatterns {
		if p.MatchString(q) {
			return Meta
		}
	}
	return Document
}

var transcriptCues = []string{
	"transcript", "meeting", "discussed", "conversation",
	"call", "said", "talked about", "spoke about",
}

var fileCues = []string{
	"file", "files", "document", "documents", "drive",
	"spreadsheet", "slide", "presentation", "report",
}

// fileExtension matches filename-style mentions ("see budget.xlsx").
var fileExtension = regexp.MustCompile(`\.(pdf|docx?|pptx?|xlsx?|txt|csv|md)\b`)

// ClassifySource returns the most specific namespace scope the query's
// wording allows. Transcript and file cues together yield BothMentioned,
// which downstream treats the same as SearchBoth.
func ClassifySource(query string) Source {
	q := normalize(query)

	transcript := containsAny(q, transcriptCues)
	files := containsAny(q, fileCues) || fileExtension.MatchString(q)

	switch {
	case transcript && files:
		return BothMentioned
	case transcript:
		return TranscriptOnly
	case files:
		return FilesOnly
	default:
		return SearchBoth
	}
}

// RestrictsNamespaces reports whether the source scope narrows the
// default namespace set.
func (s Source) RestrictsNamespaces() bool {
	return s == TranscriptOnly || s == FilesOnly
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// Strip trailing punctuation so "hello!!" still matches.
	return strings.TrimRight(s, "!.?, ")
}

func containsAny(q string, cues []string) bool {
	for _, cue := range cues {
		if containsWord(q, cue) {
			return true
		}
	}
	return false
}

// containsWord matches cue on word boundaries so "file" does not fire on "profile".
func containsWord(q, cue string) bool {
	idx := 0
	for {
		i := strings.Index(q[idx:], cue)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(cue)
		beforeOK := start == 0 || !isWordChar(q[start-1])
		afterOK := end == len(q) || !isWordChar(q[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(q) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
