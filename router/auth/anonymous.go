package auth

import (
	"strconv"

	"github.com/corvidlabs/wampd/wamp"
)

// AnonymousAuth admits every client under a fixed authrole. If the client's
// HELLO.Details supplies an authid, that is used; otherwise a random one is
// issued so sessions are still distinguishable in logs and in the session
// meta API.
//
//	RealmConfig{
//	    Authenticators: []auth.Authenticator{
//	        &auth.AnonymousAuth{AuthRole: "guest"},
//	    },
//	}
type AnonymousAuth struct {
	AuthRole string
}

func (a *AnonymousAuth) AuthMethod() string { return "anonymous" }

func (a *AnonymousAuth) Authenticate(sid wamp.ID, details wamp.Dict, client wamp.Peer) (*wamp.Welcome, error) {
	authid, ok := wamp.AsString(details["authid"])
	if !ok || authid == "" {
		authid = strconv.FormatInt(int64(wamp.GlobalID()), 16)
	}
	return &wamp.Welcome{
		Details: wamp.Dict{
			"authid":       authid,
			"authrole":     a.AuthRole,
			"authprovider": "static",
			"authmethod":   a.AuthMethod(),
		},
	}, nil
}
