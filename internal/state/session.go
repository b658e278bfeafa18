// internal/state/session.go
package state

import (
	"slices"
	"sync"

	"github.com/user/gptrelay/internal/types"
)

// DefaultMaxHistory is the history bound used when none is configured.
const DefaultMaxHistory = 30

// Session is the conversation history of a single user.
type Session struct {
	UserID types.UserID

	mu      sync.Mutex
	history []types.Message
}

// History returns a copy of the session's messages in append order.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHistory(s.history)
}

// Len returns the number of messages currently held.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// append adds msg and drops the oldest entries until at most max remain.
func (s *Session) append(msg types.Message, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, msg)
	if over := len(s.history) - max; over > 0 {
		// Snapshots are copies, so the backing array can be shifted in place.
		n := copy(s.history, s.history[over:])
		clear(s.history[n:])
		s.history = s.history[:n]
	}
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// SessionStore is an in-memory, size-bounded conversation store keyed by
// user. The table lock is held only to look up or insert a session; each
// session serializes its own mutations, so different users never contend.
type SessionStore struct {
	maxHistory int

	mu       sync.RWMutex
	sessions map[types.UserID]*Session
}

// NewSessionStore creates a store that keeps at most maxHistory messages per
// user. A non-positive bound falls back to DefaultMaxHistory.
func NewSessionStore(maxHistory int) *SessionStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &SessionStore{
		maxHistory: maxHistory,
		sessions:   make(map[types.UserID]*Session),
	}
}

// MaxHistory returns the configured per-user bound.
func (s *SessionStore) MaxHistory() int {
	return s.maxHistory
}

// lookup returns the session for userID without creating it.
func (s *SessionStore) lookup(userID types.UserID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// GetOrCreate returns the user's session, creating an empty one if needed.
func (s *SessionStore) GetOrCreate(userID types.UserID) *Session {
	if sess, ok := s.lookup(userID); ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess := &Session{UserID: userID}
	s.sessions[userID] = sess
	return sess
}

// Append adds msg to the user's history, evicting the oldest messages once
// the bound is exceeded.
func (s *SessionStore) Append(userID types.UserID, msg types.Message) {
	s.GetOrCreate(userID).append(msg, s.maxHistory)
}

// Snapshot returns a point-in-time copy of the user's history. Unknown users
// get an empty slice and no session is created.
func (s *SessionStore) Snapshot(userID types.UserID) []types.Message {
	sess, ok := s.lookup(userID)
	if !ok {
		return []types.Message{}
	}
	return sess.History()
}

// Clear discards the user's history. It is idempotent and a no-op for users
// that were never seen.
func (s *SessionStore) Clear(userID types.UserID) {
	if sess, ok := s.lookup(userID); ok {
		sess.reset()
	}
}

// Len returns the number of messages held for userID.
func (s *SessionStore) Len(userID types.UserID) int {
	sess, ok := s.lookup(userID)
	if !ok {
		return 0
	}
	return sess.Len()
}

// Stats counts sessions and the messages they hold.
func (s *SessionStore) Stats() types.SessionStats {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	stats := types.SessionStats{Sessions: len(sessions)}
	for _, sess := range sessions {
		stats.Messages += sess.Len()
	}
	return stats
}

func cloneHistory(h []types.Message) []types.Message {
	if len(h) == 0 {
		return []types.Message{}
	}
	return slices.Clone(h)
}
