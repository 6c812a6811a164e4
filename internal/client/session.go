package client

import (
	"sync"
	"time"
)

// sessionTTL bounds how long a stored session is worth presenting: the
// server evicts detached members on the same window, so an older token
// would only buy a failed resume.
const sessionTTL = 60 * time.Second

// Session is what survives a dropped socket: enough to ask the server
// to re-attach without re-running matchmaking.
type Session struct {
	PlayerID    string
	ResumeToken string
	ShardID     string
	SavedAt     time.Time
}

// SessionStore keeps the latest session for one client. Safe for use
// from the reader goroutine and the reconnect loop at once.
type SessionStore struct {
	mu   sync.Mutex
	cur  Session
	some bool

	now func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{now: time.Now}
}

func (s *SessionStore) Save(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.SavedAt = s.now()
	s.cur = sess
	s.some = true
}

// Load returns the stored session if it is still inside the TTL.
func (s *SessionStore) Load() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.some {
		return Session{}, false
	}
	if s.now().Sub(s.cur.SavedAt) > sessionTTL {
		s.some = false
		return Session{}, false
	}
	return s.cur, true
}

func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.some = false
	s.cur = Session{}
}
