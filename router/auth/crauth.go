package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/corvidlabs/wampd/wamp"
	"github.com/corvidlabs/wampd/wamp/crsign"
)

// CRAuthenticator implements WAMP-CRA: the router sends a nonce-bearing
// challenge string, the client signs it with a shared secret, and the
// router verifies the signature against the same secret from its
// KeyStore.
type CRAuthenticator struct {
	keyStore KeyStore
	timeout  time.Duration
}

// NewCRAuthenticator creates a CRAuthenticator using keyStore to look up
// secrets and roles, waiting at most timeout for the client's
// AUTHENTICATE response.
func NewCRAuthenticator(keyStore KeyStore, timeout time.Duration) *CRAuthenticator {
	return &CRAuthenticator{keyStore: keyStore, timeout: timeout}
}

func (cr *CRAuthenticator) AuthMethod() string { return "wampcra" }

func (cr *CRAuthenticator) Authenticate(sid wamp.ID, details wamp.Dict, client wamp.Peer) (*wamp.Welcome, error) {
	authid, _ := wamp.AsString(details["authid"])
	if authid == "" {
		return nil, errors.New("missing authid")
	}

	authrole, err := cr.keyStore.AuthRole(authid)
	if err != nil {
		// Do not surface the lookup error; that would leak which authids
		// exist to an unauthenticated client.
		authrole = "user"
	}

	ks, hasBypass := cr.keyStore.(BypassKeyStore)
	if hasBypass && ks.AlreadyAuth(authid, details) {
		welcome := &wamp.Welcome{
			Details: wamp.Dict{
				"authid":       authid,
				"authrole":     authrole,
				"authmethod":   cr.AuthMethod(),
				"authprovider": cr.keyStore.Provider(),
			},
		}
		if err = ks.OnWelcome(authid, welcome, details); err != nil {
			return nil, err
		}
		return welcome, nil
	}

	key, err := cr.keyStore.AuthKey(authid, cr.AuthMethod())
	if err != nil {
		// Same leak concern: sign a throwaway key so a probing client sees
		// a CHALLENGE either way, then fail the signature check below.
		keyStr, nerr := nonce()
		if nerr != nil || keyStr == "" {
			keyStr = wamp.NowISO8601()
		}
		key = []byte(keyStr)
	}

	chStr, err := cr.makeChallengeStr(sid, authid, authrole)
	if err != nil {
		return nil, err
	}

	extra := wamp.Dict{"challenge": chStr}
	if salt, keylen, iters := cr.keyStore.PasswordInfo(authid); salt != "" {
		extra["salt"] = salt
		extra["keylen"] = keylen
		extra["iterations"] = iters
	}

	if err = client.Send(&wamp.Challenge{AuthMethod: cr.AuthMethod(), Extra: extra}); err != nil {
		return nil, err
	}

	msg, err := wamp.RecvTimeout(client, cr.timeout)
	if err != nil {
		return nil, err
	}
	authRsp, ok := msg.(*wamp.Authenticate)
	if !ok {
		return nil, fmt.Errorf("unexpected %v message received from client %v",
			msg.MessageType(), client)
	}

	if !crsign.VerifySignature(authRsp.Signature, chStr, key) {
		return nil, errors.New("invalid signature")
	}

	welcome := &wamp.Welcome{
		Details: wamp.Dict{
			"authid":       authid,
			"authrole":     authrole,
			"authmethod":   cr.AuthMethod(),
			"authprovider": cr.keyStore.Provider(),
		},
	}
	if hasBypass {
		if err = ks.OnWelcome(authid, welcome, details); err != nil {
			return nil, err
		}
	}
	return welcome, nil
}

func (cr *CRAuthenticator) makeChallengeStr(session wamp.ID, authid, authrole string) (string, error) {
	n, err := nonce()
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	return fmt.Sprintf(
		`{"nonce":%q,"authprovider":%q,"authid":%q,"timestamp":%q,"authrole":%q,"authmethod":%q,"session":%d}`,
		n, cr.keyStore.Provider(), authid, wamp.NowISO8601(), authrole, cr.AuthMethod(), int(session)), nil
}

// nonce generates 16 random bytes, base64 encoded.
func nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
