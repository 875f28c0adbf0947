// Package session keeps short-lived per-session conversation state in
// memory. History backs the generation prompt; it is not durable and is
// lost on restart, which matches how the assistant surface treats it.
package session

import (
	"sync"

	"github.com/parleyhq/parley/internal/domain"
)

// DefaultHistoryWindow bounds how many messages a session retains.
const DefaultHistoryWindow = 20

// Store holds rolling conversation history per session. Safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	history map[string][]domain.Message
	window  int
}

// NewStore creates a store retaining at most window messages per session.
func NewStore(window int) *Store {
	if window < 1 {
		window = DefaultHistoryWindow
	}
	return &Store{
		history: make(map[string][]domain.Message),
		window:  window,
	}
}

// Append records a message at the end of the session's history, dropping
// the oldest messages beyond the window.
func (s *Store) Append(sessionID string, msg domain.Message) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[sessionID], msg)
	if len(h) > s.window {
		h = h[len(h)-s.window:]
	}
	s.history[sessionID] = h
}

// History returns a copy of the session's messages, oldest first.
func (s *Store) History(sessionID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[sessionID]
	out := make([]domain.Message, len(h))
	copy(out, h)
	return out
}

// Clear forgets a single session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
}

// Len reports how many sessions currently hold history.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
