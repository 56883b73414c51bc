package wamp

// Predefined URIs used by the router: error URIs, close reasons, and the
// meta-API event/procedure names under the wamp.* namespace.
//
// See https://wamp-proto.org/wamp_bp_latest_ietf.html#rfc.section.14
const (
	// -- request-level errors --

	ErrInvalidURI             = URI("wamp.error.invalid_uri")
	ErrNoSuchProcedure        = URI("wamp.error.no_such_procedure")
	ErrProcedureAlreadyExists = URI("wamp.error.procedure_already_exists")
	ErrNoSuchRegistration     = URI("wamp.error.no_such_registration")
	ErrNoSuchSubscription     = URI("wamp.error.no_such_subscription")
	ErrInvalidArgument        = URI("wamp.error.invalid_argument")

	// -- session close reasons --

	CloseNormal         = URI("wamp.close.normal")
	CloseSystemShutdown = URI("wamp.close.system_shutdown")
	ErrSystemShutdown   = CloseSystemShutdown
	CloseRealm          = URI("wamp.close.close_realm")
	ErrCloseRealm        = CloseRealm
	CloseGoodbyeAndOut  = URI("wamp.close.goodbye_and_out")
	ErrGoodbyeAndOut    = CloseGoodbyeAndOut

	// -- authentication / authorization --

	ErrNotAuthorized        = URI("wamp.error.not_authorized")
	ErrAuthorizationFailed  = URI("wamp.error.authorization_failed")
	ErrAuthenticationFailed = URI("wamp.error.authentication_failed")
	ErrNoSuchRealm          = URI("wamp.error.no_such_realm")
	ErrNoSuchRole           = URI("wamp.error.no_such_role")
	ErrNoAuthMethod         = URI("wamp.error.no_auth_method")

	// -- advanced profile --

	ErrCanceled                   = URI("wamp.error.canceled")
	ErrOptionNotAllowed           = URI("wamp.error.option_not_allowed")
	ErrNoEligibleCallee           = URI("wamp.error.no_eligible_callee")
	ErrOptionDisallowedDiscloseMe = URI("wamp.error.option_disallowed.disclose_me")
	ErrNetworkFailure             = URI("wamp.error.network_failure")
	ErrProtocolViolation          = URI("wamp.error.protocol_violation")
	ErrNoSuchSession              = URI("wamp.error.no_such_session")

	// -- session meta events / procedures --

	MetaEventSessionOnJoin  = URI("wamp.session.on_join")
	MetaEventSessionOnLeave = URI("wamp.session.on_leave")

	MetaProcSessionCount          = URI("wamp.session.count")
	MetaProcSessionList           = URI("wamp.session.list")
	MetaProcSessionGet            = URI("wamp.session.get")
	MetaProcSessionKill           = URI("wamp.session.kill")
	MetaProcSessionKillAll        = URI("wamp.session.kill_all")
	MetaProcSessionKillByAuthid   = URI("wamp.session.kill_by_authid")
	MetaProcSessionModifyDetails  = URI("wamp.session.modify_details")

	// -- registration meta events / procedures --

	MetaEventRegOnCreate     = URI("wamp.registration.on_create")
	MetaEventRegOnRegister   = URI("wamp.registration.on_register")
	MetaEventRegOnUnregister = URI("wamp.registration.on_unregister")
	MetaEventRegOnDelete     = URI("wamp.registration.on_delete")

	MetaProcRegList         = URI("wamp.registration.list")
	MetaProcRegLookup       = URI("wamp.registration.lookup")
	MetaProcRegMatch        = URI("wamp.registration.match")
	MetaProcRegGet          = URI("wamp.registration.get")
	MetaProcRegListCallees  = URI("wamp.registration.list_callees")
	MetaProcRegCountCallees = URI("wamp.registration.count_callees")

	// -- subscription meta events / procedures --

	MetaEventSubOnCreate      = URI("wamp.subscription.on_create")
	MetaEventSubOnSubscribe   = URI("wamp.subscription.on_subscribe")
	MetaEventSubOnUnsubscribe = URI("wamp.subscription.on_unsubscribe")
	MetaEventSubOnDelete      = URI("wamp.subscription.on_delete")

	MetaProcSubList             = URI("wamp.subscription.list")
	MetaProcSubLookup           = URI("wamp.subscription.lookup")
	MetaProcSubMatch            = URI("wamp.subscription.match")
	MetaProcSubGet              = URI("wamp.subscription.get")
	MetaProcSubListSubscribers  = URI("wamp.subscription.list_subscribers")
	MetaProcSubCountSubscribers = URI("wamp.subscription.count_subscribers")
)
