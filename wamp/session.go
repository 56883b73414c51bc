package wamp

import (
	"fmt"
	"sync"
)

// Session binds a session ID and negotiated details to the Peer used to
// reach the other end of the connection. Owned by the realm; the router
// package uses it directly and keeps the authentication identity in Details.
type Session struct {
	Peer
	ID      ID
	Details Dict

	mu      sync.Mutex
	done    chan struct{}
	goodbye *Goodbye
}

// NewSession constructs a Session bound to the given peer, ID, and
// negotiated details, optionally already marked as ended with goodbye.
func NewSession(peer Peer, id ID, goodbye *Goodbye, details Dict) *Session {
	sess := &Session{
		Peer:    peer,
		ID:      id,
		Details: details,
	}
	if goodbye != nil {
		sess.Kill(goodbye)
	}
	return sess
}

var closedChan = make(chan struct{})

func init() {
	close(closedChan)
}

func (s *Session) String() string { return fmt.Sprintf("%d", s.ID) }

// HasRole reports whether the session advertised the given role at HELLO.
func (s *Session) HasRole(role string) bool {
	_, err := DictValue(s.Details, []string{"roles", role})
	return err == nil
}

// HasFeature reports whether the session advertised the given feature for
// the given role at HELLO.
func (s *Session) HasFeature(role, feature string) bool {
	ok, _ := DictFlag(s.Details, []string{"roles", role, "features", feature})
	return ok
}

// Done returns a channel that closes when the session is killed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// Goodbye returns the reason the session was killed, or nil if still live.
func (s *Session) Goodbye() *Goodbye {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goodbye
}

// Kill marks the session as ended with the given reason, closing the Done
// channel. Returns false if the session was already killed.
func (s *Session) Kill(goodbye *Goodbye) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goodbye != nil {
		return false
	}
	s.goodbye = goodbye
	if s.done == nil {
		s.done = closedChan
	} else {
		close(s.done)
	}
	return true
}

// Lock guards Details against concurrent read/modify, such as from an
// Authorizer mutating session details while the dealer or broker reads them.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (s *Session) Unlock() { s.mu.Unlock() }
