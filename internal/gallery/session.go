package gallery

import (
	"sort"
	"sync"
)

// Session holds display-only viewer state. It is never persisted and never
// changes scan records.
type Session struct {
	mu           sync.RWMutex
	securityMode bool
	unlockAll    bool
	unlocked     map[string]struct{}
}

// SessionState is a snapshot of the session
type SessionState struct {
	SecurityMode bool     `json:"security_mode"`
	UnlockAll    bool     `json:"unlock_all"`
	Unlocked     []string `json:"unlocked"`
}

// NewSession starts with security mode on and nothing unlocked
func NewSession() *Session {
	return &Session{
		securityMode: true,
		unlocked:     make(map[string]struct{}),
	}
}

// SetSecurityMode toggles hiding of flagged photos. Turning it back on
// relocks everything.
func (s *Session) SetSecurityMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && !s.securityMode {
		s.unlockAll = false
		s.unlocked = make(map[string]struct{})
	}
	s.securityMode = on
}

// SecurityMode reports whether flagged photos are hidden
func (s *Session) SecurityMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.securityMode
}

// Unlock reveals one photo, or every photo when uri is empty
func (s *Session) Unlock(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uri == "" {
		s.unlockAll = true
		return
	}
	s.unlocked[uri] = struct{}{}
}

// Lock hides one photo again, or resets every unlock when uri is empty
func (s *Session) Lock(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uri == "" {
		s.unlockAll = false
		s.unlocked = make(map[string]struct{})
		return
	}
	delete(s.unlocked, uri)
}

// IsUnlocked reports whether uri was revealed by the viewer
func (s *Session) IsUnlocked(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unlockAll {
		return true
	}
	_, ok := s.unlocked[uri]
	return ok
}

// State returns a snapshot with unlocked URIs sorted
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unlocked := make([]string, 0, len(s.unlocked))
	for uri := range s.unlocked {
		unlocked = append(unlocked, uri)
	}
	sort.Strings(unlocked)
	return SessionState{
		SecurityMode: s.securityMode,
		UnlockAll:    s.unlockAll,
		Unlocked:     unlocked,
	}
}
