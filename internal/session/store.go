package session

import (
	"sync"
	"time"

	"pin-ad-studio/internal/compositor"
)

// Settings are the per-user choices applied to every run.
type Settings struct {
	Placement compositor.Placement
	Preset    string
	Tone      string
	Product   string
}

type Session struct {
	UserID       int64
	Username     string
	Settings     Settings
	PendingPin   string
	LastActivity time.Time
}

type Options struct {
	TTL      time.Duration
	Defaults Settings
	Now      func() time.Time
}

// Store keeps sessions in memory. A session idle for longer than the TTL is
// dropped and the user starts again from the defaults.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	defaults Settings
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		defaults: opts.Defaults,
		now:      now,
	}
}

func (s *Store) Snapshot(userID int64, username string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(userID, username)
	sess.LastActivity = s.now()
	return *sess
}

func (s *Store) Update(userID int64, username string, fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(userID, username)
	sess.LastActivity = s.now()
	fn(&sess.Settings)
	return sess.Settings
}

// Reset restores the default settings and forgets a pending pin.
func (s *Store) Reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		sess.Settings = s.defaults
		sess.PendingPin = ""
		sess.LastActivity = s.now()
	}
}

func (s *Store) SetPendingPin(userID int64, username, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(userID, username)
	sess.PendingPin = fileID
	sess.LastActivity = s.now()
}

// TakePendingPin returns and clears the pin waiting for its background.
func (s *Store) TakePendingPin(userID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || s.expiredLocked(sess) || sess.PendingPin == "" {
		return "", false
	}
	pin := sess.PendingPin
	sess.PendingPin = ""
	sess.LastActivity = s.now()
	return pin, true
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if s.expiredLocked(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Store) expiredLocked(sess *Session) bool {
	return s.now().Sub(sess.LastActivity) > s.ttl
}

func (s *Store) getOrCreateLocked(userID int64, username string) *Session {
	if sess, ok := s.sessions[userID]; ok && !s.expiredLocked(sess) {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		return sess
	}

	sess := &Session{
		UserID:       userID,
		Username:     username,
		Settings:     s.defaults,
		LastActivity: s.now(),
	}
	s.sessions[userID] = sess
	return sess
}
