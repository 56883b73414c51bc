package router

import "github.com/corvidlabs/wampd/wamp"

// Authorizer decides whether a session is allowed to send a message.
type Authorizer interface {
	// Authorize reports whether sess may send msg. A non-nil error means
	// authorization could not be determined; when the message is rejected,
	// the error text is sent back to sess as the argument of the rejecting
	// ERROR, whose error URI is then wamp.error.authorization_failed.
	//
	// sess and msg are passed by pointer, so an Authorizer may also act as
	// an interceptor: mutating msg.Details before routing proceeds, or
	// stashing something on sess.Details keyed off a message it just saw.
	Authorize(sess *wamp.Session, msg wamp.Message) (bool, error)
}
