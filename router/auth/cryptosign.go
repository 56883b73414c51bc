package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/sign"

	"github.com/corvidlabs/wampd/wamp"
)

// CryptoSignAuthenticator implements the "cryptosign" authmethod:
// Ed25519 challenge signing via golang.org/x/crypto/nacl/sign, with the
// client's public key looked up from KeyStore.
type CryptoSignAuthenticator struct {
	keyStore KeyStore
	timeout  time.Duration
}

func NewCryptoSignAuthenticator(keyStore KeyStore, timeout time.Duration) *CryptoSignAuthenticator {
	return &CryptoSignAuthenticator{keyStore: keyStore, timeout: timeout}
}

func (cr *CryptoSignAuthenticator) AuthMethod() string { return "cryptosign" }

func (cr *CryptoSignAuthenticator) Authenticate(sid wamp.ID, details wamp.Dict, client wamp.Peer) (*wamp.Welcome, error) {
	authid, _ := wamp.AsString(details["authid"])
	if authid == "" {
		return nil, errors.New("missing authid")
	}

	authrole, err := cr.keyStore.AuthRole(authid)
	if err != nil {
		return nil, err
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

	pubKey, err := cr.keyStore.AuthKey(authid, cr.AuthMethod())
	if err != nil {
		return nil, errors.New("failed to retrieve key")
	}

	challenge, err := cr.computeChallenge(cr.extractChannelBinding(details))
	if err != nil {
		return nil, err
	}
	extra := wamp.Dict{"challenge": hex.EncodeToString(challenge)}

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

	verified, err := cr.verifySignature(authRsp.Signature, pubKey)
	if err != nil {
		return nil, err
	}
	if !verified {
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

// verifySignature checks an Ed25519 signed message (hex-encoded, in
// sign.Open's combined form: a 64-byte signature followed by the 32-byte
// message) against the client's public key.
func (cr *CryptoSignAuthenticator) verifySignature(signature string, publicKey []byte) (bool, error) {
	signatureBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false, err
	}
	if len(signatureBytes) != 96 {
		return false, fmt.Errorf("signed message has invalid length: got %d, want 96", len(signatureBytes))
	}

	var pubkey [32]byte
	copy(pubkey[:], publicKey)
	_, verified := sign.Open(nil, signatureBytes, &pubkey)
	return verified, nil
}

// extractChannelBinding pulls the TLS channel-binding bytes a client may
// advertise under authextra.channel_binding. Not currently populated by
// any transport in this module, so this is always nil for now.
func (cr *CryptoSignAuthenticator) extractChannelBinding(details wamp.Dict) []byte {
	return nil
}

func (cr *CryptoSignAuthenticator) computeChallenge(channelBinding []byte) ([]byte, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	if channelBinding == nil {
		return challenge, nil
	}
	signedMessage := make([]byte, 32)
	for i, v := range challenge {
		signedMessage[i] = v ^ channelBinding[i]
	}
	return signedMessage, nil
}
