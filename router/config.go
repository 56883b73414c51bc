package router

import (
	"github.com/corvidlabs/wampd/router/auth"
	"github.com/corvidlabs/wampd/wamp"
)

// Config configures the router with realms, and optionally a template for
// creating new realms.
type Config struct {
	// RealmConfigs defines the configurations for realms within the router.
	RealmConfigs []*RealmConfig `json:"realms"`

	// RealmTemplate, if defined, is used by the router to create new realms
	// when a client requests to join a realm that does not yet exist.  If
	// RealmTemplate is nil (the default), then clients must join existing
	// realms.
	//
	// Caution, enabling a realm template that allows anonymous authentication
	// allows unauthenticated clients to create new realms.
	RealmTemplate *RealmConfig `json:"realm_template"`

	// Enable debug logging for router, realm, broker, dealer
	Debug bool
}

// RealmConfig configures a single realm in the router.  The router
// configuration may specify a list of realms to configure.
type RealmConfig struct {
	// URI that identifies the realm.
	URI wamp.URI
	// Enforce strict URI format validation.
	StrictURI bool `json:"strict_uri"`
	// Allow anonymous authentication in addition to any configured
	// Authenticators.  The realm supplies an auth.AnonymousAuth with AuthRole
	// of "trusted".  A realm left with no authenticators at all (neither this
	// nor Authenticators) falls back to the same anonymous authenticator.
	AnonymousAuth bool `json:"anonymous_auth"`
	// Allow publisher and caller identity disclosure when requested.
	AllowDisclose bool `json:"allow_disclose"`
	// Slice of Authenticator interfaces.
	Authenticators []auth.Authenticator
	// Authorizer called for each message.
	Authorizer Authorizer
	// RequireLocalAuth is stored on the realm but not consulted: in-process
	// clients are authenticated by the realm's authenticators the same way as
	// remote clients, whether or not this is set.
	RequireLocalAuth bool `json:"require_local_auth"`
	// RequireLocalAuthz is stored on the realm, but the only session the realm
	// treats as local is its own meta session, which is never authorized.
	// Every client session, in-process or remote, goes through the Authorizer
	// whether or not this is set.
	RequireLocalAuthz bool `json:"require_local_authz"`

	// MetaStrict is stored on the realm but not consulted.  The on_join event
	// carries all of a session's details, and the wamp.session.get response
	// carries all of them except transport.
	MetaStrict bool `json:"meta_strict"`
	// MetaIncludeSessionDetails is a list of names of additional session
	// details values.  Like MetaStrict, it is stored but not consulted.
	MetaIncludeSessionDetails []string `json:"meta_include_session_details"`

	// EnableMetaKill enables the wamp.session.kill* session meta procedures.
	// These are disabled by default to avoid requiring Authorizer logic when
	// it may not be needed otherwise.
	EnableMetaKill bool `json:"enable_meta_kill"`
	// EnableMetaModify enables the wamp.session.modify_details session meta
	// procedure.  This is disabled by default to avoid requiring Authorizer
	// logic when it may not be needed otherwise.
	EnableMetaModify bool `json:"enable_meta_modify"`

	// PublishFilterFactory is a function used to create a
	// PublishFilter to check which sessions a publication should be
	// sent to.
	//
	// This value is not set via json config, but is configured when
	// embedding the router.  A value of nil enables the default filtering.
	PublishFilterFactory FilterFactory
}
