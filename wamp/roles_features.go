package wamp

// Roles a session may advertise in HELLO.Details["roles"].
const (
	RoleBroker     = "broker"
	RoleDealer     = "dealer"
	RoleCallee     = "callee"
	RoleCaller     = "caller"
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
)

// Advanced Profile feature names, as advertised per-role in
// HELLO.Details["roles"][role]["features"].
const (
	FeatureCallCanceling   = "call_canceling"
	FeatureCallTimeout     = "call_timeout"
	FeatureCallerIdent     = "caller_identification"
	FeaturePatternBasedReg = "pattern_based_registration"
	FeatureProgCallResults = "progressive_call_results"
	FeatureSessionMetaAPI  = "session_meta_api"
	FeatureSharedReg       = "shared_registration"
	FeatureRegMetaAPI      = "registration_meta_api"

	FeaturePatternSub           = "pattern_based_subscription"
	FeaturePubExclusion         = "publisher_exclusion"
	FeaturePubIdent             = "publisher_identification"
	FeatureSubBlackWhiteListing = "subscriber_blackwhite_listing"
	FeatureSubMetaAPI           = "subscription_meta_api"
)
