package authfront

import "sync"

// SessionSignal resolves exactly once, when a session is first established
// within the surface's lifetime. Waiters blocked on Done before the first
// resolution all unblock at that moment. Logout under credentialed access
// replaces the signal with a fresh unresolved instance rather than reusing a
// resolved one.
type SessionSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newSessionSignal() *SessionSignal {
	return &SessionSignal{ch: make(chan struct{})}
}

// Done returns a channel closed once a session has been established.
func (s *SessionSignal) Done() <-chan struct{} {
	return s.ch
}

// Resolved reports whether the signal has fired.
func (s *SessionSignal) Resolved() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *SessionSignal) resolve() {
	s.once.Do(func() { close(s.ch) })
}
