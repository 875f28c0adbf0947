package domain

// Message roles, mirroring the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query is a single user question, immutable once issued. A new Query for
// the same session supersedes any retrieval still in flight.
type Query struct {
	Text      string
	SessionID string
	History   []Message
}

// Session scopes which namespaces a query searches. Transcript holds the
// raw running transcript, used as a last-resort pseudo-hit when the
// transcript namespace returns nothing.
type Session struct {
	ID         string
	Transcript string
}

// NamespaceGlobal is the shared document pool searched for every session.
const NamespaceGlobal = "meeting-assistant"

// TranscriptNamespace returns the per-session transcript collection key.
func TranscriptNamespace(sessionID string) string { return "transcript-" + sessionID }

// FilesNamespace returns the per-session drive-files collection key.
func FilesNamespace(sessionID string) string { return "files-" + sessionID }

// WebNamespace returns the per-session scraped-pages collection key.
func WebNamespace(sessionID string) string { return "web-" + sessionID }

// AllNamespaces returns the default search set for a session: transcript,
// drive files, scraped pages, and the global pool.
func AllNamespaces(sessionID string) []string {
	return []string{
		TranscriptNamespace(sessionID),
		FilesNamespace(sessionID),
		WebNamespace(sessionID),
		NamespaceGlobal,
	}
}
