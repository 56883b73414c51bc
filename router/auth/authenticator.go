// Package auth provides the Authenticator interface the router uses to
// decide whether to admit a HELLO, plus the anonymous, ticket, WAMP-CRA,
// and cryptosign implementations of it.
package auth

import (
	"time"

	"github.com/corvidlabs/wampd/wamp"
)

const defaultCRAuthTimeout = time.Minute

// Authenticator handles authentication using only the HELLO message and
// whatever CHALLENGE/AUTHENTICATE exchange its method requires.
type Authenticator interface {
	// Authenticate takes HELLO details and returns a WELCOME message if
	// successful, otherwise an error.
	Authenticate(sid wamp.ID, details wamp.Dict, client wamp.Peer) (*wamp.Welcome, error)

	// AuthMethod returns the authmethod name this authenticator handles.
	AuthMethod() string
}

// KeyStore retrieves signing keys and role/provider information for a
// challenge-response authenticator.
type KeyStore interface {
	// AuthKey returns the user's key appropriate for the given authmethod.
	AuthKey(authid, authmethod string) ([]byte, error)

	// PasswordInfo returns PBKDF2 salting info for the user's password.
	// Only meaningful when the key was derived that way.
	PasswordInfo(authid string) (salt string, keyLen, iterations int)

	// AuthRole returns the authrole for the user.
	AuthRole(authid string) (string, error)

	// Provider names this KeyStore implementation, reported in WELCOME.
	Provider() string
}

// BypassKeyStore is an optional extension to KeyStore that lets a
// challenge-response authenticator skip the CHALLENGE round trip for a
// client that is already known-good, such as one presenting a valid
// tracking cookie from a prior session.
type BypassKeyStore interface {
	// AlreadyAuth reports whether the client in details is already
	// authenticated and should bypass the challenge.
	AlreadyAuth(authid string, details wamp.Dict) bool

	// OnWelcome is called just before a WELCOME is sent, letting the
	// key store record or update tracking state and annotate the
	// welcome's details.
	OnWelcome(authid string, welcome *wamp.Welcome, details wamp.Dict) error
}
