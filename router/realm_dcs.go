package router

import (
	"errors"

	"github.com/corvidlabs/wampd/wamp"
)

// GetRealm returns the realm already running under the given URI.
func (r *router) GetRealm(uri wamp.URI) (*realm, error) {
	realm, ok := r.realms[uri]
	if !ok {
		return nil, errors.New("no such realm: " + string(uri))
	}
	return realm, nil
}

// SessionKill closes the session identified by session ID, sending it a
// GOODBYE carrying reason and message. The meta session cannot be killed.
func (r *realm) SessionKill(sid wamp.ID, reason wamp.URI, message string) error {
	if sid == metaID {
		return errNoSuchSession
	}
	return r.killSession(sid, reason, message)
}
