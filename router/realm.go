package router

import (
	"fmt"

	"github.com/corvidlabs/wampd/router/auth"
	"github.com/corvidlabs/wampd/stdlog"
	"github.com/corvidlabs/wampd/transport"
	"github.com/corvidlabs/wampd/wamp"
)

// metaID is the reserved session ID of the realm's internal meta session.
// wamp.GlobalID and wamp.IDGen never hand out 0, so this can never collide
// with a real client.
const metaID wamp.ID = 0

// realm is a WAMP routing and administrative domain. All clients attached
// to a realm see each other's PubSub and RPC traffic; clients in different
// realms are completely isolated from one another.
type realm struct {
	uri wamp.URI

	broker *broker
	dealer *dealer

	authenticators []auth.Authenticator
	authorizer     Authorizer

	requireLocalAuth  bool
	requireLocalAuthz bool

	metaStrict        bool
	metaIncludeFields []string
	enableMetaKill    bool
	enableMetaModify  bool

	// session ID -> session
	clients map[wamp.ID]*wamp.Session

	metaPeer wamp.Peer
	metaSess *wamp.Session

	// Meta-procedure registration ID -> handler func.
	metaProcMap map[wamp.ID]func(*wamp.Invocation) wamp.Message

	actionChan chan func()
	closed     bool

	log   stdlog.StdLog
	debug bool
}

// newRealm creates a realm configured per cfg.
func newRealm(cfg *RealmConfig, logger stdlog.StdLog, debug bool) (*realm, error) {
	if !cfg.URI.ValidURI(cfg.StrictURI, "") {
		return nil, configError{Err: fmt.Errorf("invalid realm URI %v (URI strict checking %v)",
			cfg.URI, cfg.StrictURI)}
	}

	r := &realm{
		uri:               cfg.URI,
		broker:            newBroker(logger, cfg.StrictURI, cfg.AllowDisclose, debug, cfg.PublishFilterFactory),
		dealer:            newDealer(logger, cfg.StrictURI, cfg.AllowDisclose, debug),
		authorizer:        cfg.Authorizer,
		requireLocalAuth:  cfg.RequireLocalAuth,
		requireLocalAuthz: cfg.RequireLocalAuthz,
		metaStrict:        cfg.MetaStrict,
		metaIncludeFields: cfg.MetaIncludeSessionDetails,
		enableMetaKill:    cfg.EnableMetaKill,
		enableMetaModify:  cfg.EnableMetaModify,
		clients:           map[wamp.ID]*wamp.Session{},
		metaProcMap:       map[wamp.ID]func(*wamp.Invocation) wamp.Message{},
		actionChan:        make(chan func()),
		log:               logger,
		debug:             debug,
	}

	if cfg.AnonymousAuth {
		r.authenticators = append(r.authenticators, &auth.AnonymousAuth{AuthRole: "trusted"})
	}
	r.authenticators = append(r.authenticators, cfg.Authenticators...)
	if len(r.authenticators) == 0 {
		// A realm configured with no authenticators at all still accepts
		// anonymous clients as trusted, the same as if AnonymousAuth had
		// been set explicitly.
		r.authenticators = append(r.authenticators, &auth.AnonymousAuth{AuthRole: "trusted"})
	}

	metaPeerSide, metaRouterSide := transport.LinkedPeers()
	r.metaPeer = metaPeerSide
	r.metaSess = &wamp.Session{
		Peer: metaRouterSide,
		ID:   metaID,
		Details: wamp.Dict{
			"authrole": "trusted",
		},
	}

	go r.run()
	r.registerMetaProcedures()
	go r.handleSession(r.metaSess)

	return r, nil
}

// run is the realm's single actor goroutine: every read or write of realm
// state happens here, serialized by actionChan.
func (r *realm) run() {
	for action := range r.actionChan {
		action()
	}
	if r.debug {
		r.log.Print("Realm ", r.uri, " stopped")
	}
}

// close kicks every attached client off the realm and shuts down the
// broker and dealer.
func (r *realm) close() {
	done := make(chan struct{})
	var clients []*wamp.Session
	r.actionChan <- func() {
		if r.closed {
			close(done)
			return
		}
		r.closed = true
		for _, sess := range r.clients {
			clients = append(clients, sess)
		}
		close(done)
	}
	<-done

	goodbye := &wamp.Goodbye{Reason: wamp.ErrSystemShutdown, Details: wamp.Dict{}}
	for _, sess := range clients {
		if sess.Kill(goodbye) {
			sess.Send(goodbye)
		}
	}

	r.broker.close()
	r.dealer.close()
	close(r.actionChan)
}

// onJoin records a newly attached session and publishes wamp.session.on_join.
func (r *realm) onJoin(sess *wamp.Session) {
	done := make(chan struct{})
	r.actionChan <- func() {
		r.clients[sess.ID] = sess
		close(done)
	}
	<-done
	r.metaPeer.Send(&wamp.Publish{
		Request:   wamp.GlobalID(),
		Topic:     wamp.MetaEventSessionOnJoin,
		Arguments: wamp.List{sess.Details},
	})
}

// onLeave removes a departed session and publishes wamp.session.on_leave.
func (r *realm) onLeave(sess *wamp.Session) {
	r.actionChan <- func() {
		delete(r.clients, sess.ID)
	}
	r.dealer.removeSession(sess)
	r.broker.removeSession(sess)
	r.metaPeer.Send(&wamp.Publish{
		Request:   wamp.GlobalID(),
		Topic:     wamp.MetaEventSessionOnLeave,
		Arguments: wamp.List{sess.ID},
	})
}

// local reports whether sess is the realm's own meta session, the only
// session the realm treats as local.
func (r *realm) local(sess *wamp.Session) bool {
	return sess.ID == metaID
}

// handleSession is the per-session dispatch loop. It runs until the peer
// disconnects, sends GOODBYE, or is killed by a meta procedure.
func (r *realm) handleSession(sess *wamp.Session) {
	r.onJoin(sess)
	defer r.onLeave(sess)

	recvChan := sess.Recv()
	for {
		select {
		case msg, open := <-recvChan:
			if !open {
				return
			}
			if !r.dispatch(sess, msg) {
				return
			}
		case <-sess.Done():
			goodbye := sess.Goodbye()
			if goodbye == nil {
				goodbye = &wamp.Goodbye{Reason: wamp.ErrCloseRealm, Details: wamp.Dict{}}
			}
			sess.Send(goodbye)
			return
		}
	}
}

// dispatch authorizes and routes a single message from sess. It returns
// false when the session should be torn down.
func (r *realm) dispatch(sess *wamp.Session, msg wamp.Message) bool {
	if r.authorizer != nil && (sess.ID != metaID) && (!r.local(sess) || r.requireLocalAuthz) {
		isAuthz, err := r.authorizer.Authorize(sess, msg)
		if !isAuthz {
			errMsg := &wamp.Error{Type: msg.MessageType(), Details: wamp.Dict{}}
			switch msg := msg.(type) {
			case *wamp.Publish:
				errMsg.Request = msg.Request
			case *wamp.Subscribe:
				errMsg.Request = msg.Request
			case *wamp.Unsubscribe:
				errMsg.Request = msg.Request
			case *wamp.Register:
				errMsg.Request = msg.Request
			case *wamp.Unregister:
				errMsg.Request = msg.Request
			case *wamp.Call:
				errMsg.Request = msg.Request
			}
			if err != nil {
				errMsg.Error = wamp.ErrAuthorizationFailed
				errMsg.Arguments = wamp.List{err.Error()}
			} else {
				errMsg.Error = wamp.ErrNotAuthorized
			}
			sess.Send(errMsg)
			return true
		}
	}

	switch msg := msg.(type) {
	case *wamp.Publish:
		r.broker.publish(sess, msg)
	case *wamp.Subscribe:
		r.broker.subscribe(sess, msg)
	case *wamp.Unsubscribe:
		r.broker.unsubscribe(sess, msg)

	case *wamp.Register:
		r.dealer.register(sess, msg)
	case *wamp.Unregister:
		r.dealer.unregister(sess, msg)
	case *wamp.Call:
		r.dealer.call(sess, msg)
	case *wamp.Cancel:
		r.dealer.cancel(sess, msg)
	case *wamp.Yield:
		r.dealer.yield(sess, msg)

	case *wamp.Error:
		if msg.Type == wamp.INVOCATION {
			r.dealer.error(msg)
		}

	case *wamp.Goodbye:
		sess.Send(&wamp.Goodbye{Reason: wamp.ErrGoodbyeAndOut, Details: wamp.Dict{}})
		return false

	case *wamp.Hello:
		// HELLO on an established session is a protocol violation.
		sess.Send(&wamp.Abort{Reason: wamp.ErrProtocolViolation, Details: wamp.Dict{}})
		return false

	default:
		if r.debug {
			r.log.Println("session", sess.ID, "sent unhandled message:", msg.MessageType())
		}
	}
	return true
}

// authClient authenticates a HELLO according to the authmethods requested
// and the authenticators configured for this realm.
func (r *realm) authClient(sid wamp.ID, client wamp.Peer, details wamp.Dict) (*wamp.Welcome, error) {
	var methods []string
	if raw, ok := details["authmethods"]; ok {
		switch m := raw.(type) {
		case []string:
			methods = m
		case wamp.List:
			for _, x := range m {
				if s, ok := wamp.AsString(x); ok {
					methods = append(methods, s)
				}
			}
		case []interface{}:
			for _, x := range m {
				if s, ok := x.(string); ok {
					methods = append(methods, s)
				}
			}
		}
	}
	if len(methods) == 0 {
		methods = []string{"anonymous"}
	}

	authr := r.getAuthenticator(methods)
	if authr == nil {
		return nil, fmt.Errorf("could not authenticate with any method")
	}
	return authr.Authenticate(sid, details, client)
}

// getAuthenticator finds the first registered authenticator matching one
// of the requested methods.
func (r *realm) getAuthenticator(methods []string) auth.Authenticator {
	var found auth.Authenticator
	done := make(chan struct{})
	r.actionChan <- func() {
		for _, method := range methods {
			for _, a := range r.authenticators {
				if a.AuthMethod() == method {
					found = a
					break
				}
			}
			if found != nil {
				break
			}
		}
		close(done)
	}
	<-done
	return found
}
