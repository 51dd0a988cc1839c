package dialog

import (
	"sync"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
)

// SessionStore maps conversation ids to sessions. Each conversation has its own
// lock so events for one chat are serialized while different chats run in parallel.
type SessionStore struct {
	mu      sync.Mutex
	entries map[int64]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[int64]*sessionEntry)}
}

func (s *SessionStore) entry(id int64) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &sessionEntry{session: Session{ConversationID: id, State: Idle}}
		s.entries[id] = e
	}
	return e
}

// Get returns a copy of the session, creating an Idle one if absent.
func (s *SessionStore) Get(id int64) Session {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Set replaces the session for id.
func (s *SessionStore) Set(id int64, sess Session) {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	sess.ConversationID = id
	e.session = sess.clone()
}

// Update runs fn with exclusive access to the session for id. fn may block;
// other events for the same conversation wait until it returns.
func (s *SessionStore) Update(id int64, fn func(sess *Session)) {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.session)
	e.session.ConversationID = id
}

// Len returns the number of known conversations.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (sess Session) clone() Session {
	if sess.LastRanking != nil {
		r := make(emotion.Ranking, len(sess.LastRanking))
		copy(r, sess.LastRanking)
		sess.LastRanking = r
	}
	return sess
}
