package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corvidlabs/wampd/stdlog"
	"github.com/corvidlabs/wampd/wamp"
)

// helloTimeout is how long Attach waits for a HELLO after a peer connects.
const helloTimeout = 5 * time.Second

// Router handles new connections and routes requests to the requested
// realm.
type Router interface {
	// Attach connects a client to the router and runs the session to
	// completion. The peer must send HELLO as its first message.
	Attach(client wamp.Peer) error

	// AttachClient is like Attach, but merges transportDetails into the
	// session's details before WELCOME is sent, so authenticators and
	// authorizers can see transport-level information such as cookies or
	// the originating request.
	AttachClient(client wamp.Peer, transportDetails wamp.Dict) error

	// AddRealm starts a new realm configured per cfg. Returns an error if a
	// realm with the same URI is already running.
	AddRealm(cfg *RealmConfig) error

	// RemoveRealm closes the realm identified by uri, disconnecting any
	// clients attached to it.
	RemoveRealm(uri wamp.URI)

	// Close shuts down the router and all its realms, disconnecting every
	// attached client.
	Close()

	// Logger returns the logger used by the router and its realms.
	Logger() stdlog.StdLog
}

// router implements Router. Realm state is read and written only by
// AddRealm/RemoveRealm/Close and by realm lookups guarded by mu; the realms
// themselves are independent actors once started.
type router struct {
	mu     sync.Mutex
	realms map[wamp.URI]*realm

	realmTemplate *RealmConfig

	closed bool

	log   stdlog.StdLog
	debug bool
}

// NewRouter creates a router from config, starting a realm for each entry
// in config.RealmConfigs.
func NewRouter(config *Config, logger stdlog.StdLog) (Router, error) {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		return nil, errors.New("router: logger is required")
	}

	r := &router{
		realms:        map[wamp.URI]*realm{},
		realmTemplate: config.RealmTemplate,
		log:           logger,
		debug:         config.Debug,
	}

	for _, rcfg := range config.RealmConfigs {
		if err := r.AddRealm(rcfg); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Logger returns the router's logger.
func (r *router) Logger() stdlog.StdLog { return r.log }

// AddRealm starts a new realm configured per cfg.
func (r *router) AddRealm(cfg *RealmConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("router: router is closed")
	}
	if _, exists := r.realms[cfg.URI]; exists {
		return configError{Err: fmt.Errorf("realm already exists: %v", cfg.URI)}
	}

	rlm, err := newRealm(cfg, r.log, r.debug)
	if err != nil {
		return err
	}
	r.realms[cfg.URI] = rlm

	if r.debug {
		r.log.Print("Added realm ", cfg.URI)
	}
	return nil
}

// RemoveRealm closes the realm identified by uri, disconnecting any
// clients attached to it. Does nothing if no such realm exists.
func (r *router) RemoveRealm(uri wamp.URI) {
	r.mu.Lock()
	rlm, ok := r.realms[uri]
	if ok {
		delete(r.realms, uri)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	rlm.close()
	if r.debug {
		r.log.Print("Removed realm ", uri)
	}
}

// getRealm returns the running realm for uri, creating one from the
// router's RealmTemplate if configured and no realm with that URI exists
// yet.
func (r *router) getRealm(uri wamp.URI) (*realm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rlm, ok := r.realms[uri]; ok {
		return rlm, nil
	}
	if r.realmTemplate == nil {
		return nil, fmt.Errorf("no such realm: %v", uri)
	}

	cfg := *r.realmTemplate
	cfg.URI = uri
	rlm, err := newRealm(&cfg, r.log, r.debug)
	if err != nil {
		return nil, err
	}
	r.realms[uri] = rlm
	if r.debug {
		r.log.Print("Created realm from template: ", uri)
	}
	return rlm, nil
}

// Close shuts down the router, closing every realm and disconnecting all
// attached clients.
func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	realms := r.realms
	r.realms = map[wamp.URI]*realm{}
	r.mu.Unlock()

	for _, rlm := range realms {
		rlm.close()
	}
}

// Attach connects a client to the router with no additional transport
// details.
func (r *router) Attach(client wamp.Peer) error {
	return r.AttachClient(client, nil)
}

// AttachClient receives a HELLO from client, authenticates and welcomes it
// into the requested realm, and starts the session's dispatch loop.
// transportDetails, if non-nil, is merged into the HELLO details under the
// "transport" key before authentication, so it is visible to
// authenticators and authorizers and reflected in the session meta API.
func (r *router) AttachClient(client wamp.Peer, transportDetails wamp.Dict) error {
	msg, err := wamp.RecvTimeout(client, helloTimeout)
	if err != nil {
		client.Close()
		return fmt.Errorf("did not receive HELLO: %w", err)
	}

	hello, ok := msg.(*wamp.Hello)
	if !ok {
		client.Send(&wamp.Abort{
			Reason:  wamp.ErrProtocolViolation,
			Details: wamp.Dict{"message": "expected HELLO, received " + msg.MessageType().String()},
		})
		client.Close()
		return fmt.Errorf("expected HELLO, received %v", msg.MessageType())
	}

	if !hello.Realm.ValidURI(false, "") {
		client.Send(&wamp.Abort{
			Reason:  wamp.ErrInvalidURI,
			Details: wamp.Dict{"message": "invalid realm URI: " + string(hello.Realm)},
		})
		client.Close()
		return fmt.Errorf("invalid realm URI: %v", hello.Realm)
	}

	rlm, err := r.getRealm(hello.Realm)
	if err != nil {
		client.Send(&wamp.Abort{
			Reason:  wamp.ErrNoSuchRealm,
			Details: wamp.Dict{"message": err.Error()},
		})
		client.Close()
		return err
	}

	details := hello.Details
	if details == nil {
		details = wamp.Dict{}
	}
	if transportDetails != nil {
		details["transport"] = transportDetails
	}

	sid := wamp.GlobalID()
	welcome, err := rlm.authClient(sid, client, details)
	if err != nil {
		client.Send(&wamp.Abort{
			Reason:  wamp.ErrAuthenticationFailed,
			Details: wamp.Dict{"message": err.Error()},
		})
		client.Close()
		return fmt.Errorf("authentication failed: %w", err)
	}

	welcome.ID = sid
	if welcome.Details == nil {
		welcome.Details = wamp.Dict{}
	}
	welcome.Details["roles"] = wamp.Dict{
		"broker": rlm.broker.role(),
		"dealer": rlm.dealer.role(),
	}
	if transportDetails != nil {
		welcome.Details["transport"] = transportDetails
	}

	if err = client.Send(welcome); err != nil {
		client.Close()
		return fmt.Errorf("error sending welcome: %w", err)
	}

	sess := &wamp.Session{
		Peer:    client,
		ID:      sid,
		Details: welcome.Details,
	}
	go rlm.handleSession(sess)

	return nil
}
