package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/corvidlabs/wampd/wamp"
)

// ticketAuthenticator implements the "ticket" authmethod: the client
// sends a shared-secret ticket value instead of signing a challenge.
//
// Caution: the ticket travels over the wire in plain AUTHENTICATE.Signature;
// this scheme only provides real security over an encrypted transport.
type ticketAuthenticator struct {
	CRAuthenticator
}

// NewTicketAuthenticator creates a ticket authenticator using keyStore to
// look up each authid's ticket and role.
func NewTicketAuthenticator(keyStore KeyStore, timeout time.Duration) Authenticator {
	return &ticketAuthenticator{CRAuthenticator{keyStore: keyStore, timeout: timeout}}
}

func (t *ticketAuthenticator) AuthMethod() string { return "ticket" }

func (t *ticketAuthenticator) Authenticate(sid wamp.ID, details wamp.Dict, client wamp.Peer) (*wamp.Welcome, error) {
	authid := wamp.OptionString(details, "authid")
	if authid == "" {
		return nil, errors.New("missing authid")
	}

	ks, hasBypass := t.keyStore.(BypassKeyStore)
	if hasBypass && ks.AlreadyAuth(authid, details) {
		authrole, err := t.keyStore.AuthRole(authid)
		if err != nil {
			authrole = "user"
		}
		welcome := &wamp.Welcome{
			Details: wamp.Dict{
				"authid":       authid,
				"authrole":     authrole,
				"authmethod":   t.AuthMethod(),
				"authprovider": t.keyStore.Provider(),
			},
		}
		if err = ks.OnWelcome(authid, welcome, details); err != nil {
			return nil, err
		}
		return welcome, nil
	}

	authrole, err := t.keyStore.AuthRole(authid)
	if err != nil {
		return nil, err
	}

	ticket, err := t.keyStore.AuthKey(authid, t.AuthMethod())
	if err != nil {
		return nil, err
	}

	// The challenge carries no extra data; the authmethod alone tells the
	// client it must reply with its ticket.
	if err = client.Send(&wamp.Challenge{AuthMethod: t.AuthMethod(), Extra: wamp.Dict{}}); err != nil {
		return nil, err
	}

	msg, err := wamp.RecvTimeout(client, t.timeout)
	if err != nil {
		return nil, err
	}
	authRsp, ok := msg.(*wamp.Authenticate)
	if !ok {
		return nil, fmt.Errorf("unexpected %v message received from client %v",
			msg.MessageType(), client)
	}

	if authRsp.Signature != string(ticket) {
		return nil, errors.New("invalid ticket")
	}

	welcome := &wamp.Welcome{
		Details: wamp.Dict{
			"authid":       authid,
			"authmethod":   t.AuthMethod(),
			"authrole":     authrole,
			"authprovider": t.keyStore.Provider(),
		},
	}
	if hasBypass {
		if err = ks.OnWelcome(authid, welcome, details); err != nil {
			return nil, err
		}
	}
	return welcome, nil
}
