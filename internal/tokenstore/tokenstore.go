// Package tokenstore holds the current identity token and its expiry.
package tokenstore

import (
	"sync"
	"time"
)

// Store is the process-wide home of the identity token. Its lifecycle is tied
// to login and logout: Set on successful authentication, Clear on logout.
type Store struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// New creates an empty store. A nil now falls back to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now}
}

// Get returns the stored token. An entry whose expiry has passed is treated as
// absent; it is never returned.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", false
	}
	if !s.expiry.IsZero() && !s.now().Before(s.expiry) {
		return "", false
	}
	return s.token, true
}

// Set overwrites any existing entry. A zero expiry means the token does not
// expire on its own.
func (s *Store) Set(token string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = expiry
}

// Clear removes the stored token.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}
