// Package crsign computes and verifies the HMAC-SHA256 signatures used by
// WAMP-CRA challenge/response authentication.
package crsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"

	"github.com/corvidlabs/wampd/wamp"
)

// SignChallenge computes the HMAC-SHA256 of ch under key, base64-encoded.
func SignChallenge(ch string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ch))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the correct signature of ch under
// key, comparing in constant time.
func VerifySignature(sig, ch string, key []byte) bool {
	expected := SignChallenge(ch, key)
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// RespondChallenge is the client-side half of WAMP-CRA: given the shared
// secret and the CHALLENGE message the router sent, it extracts the
// challenge string from ch.Extra and returns its signature. If the
// challenge carries PBKDF2 salting info (as CRAuthenticator sends when
// the server's KeyStore reports PasswordInfo), the secret is first
// stretched into the signing key with those parameters.
func RespondChallenge(secret string, ch *wamp.Challenge, authExtra wamp.Dict) string {
	chStr, _ := wamp.AsString(ch.Extra["challenge"])

	key := []byte(secret)
	if salt, _ := wamp.AsString(ch.Extra["salt"]); salt != "" {
		keyLen, _ := wamp.AsInt64(ch.Extra["keylen"])
		if keyLen <= 0 {
			keyLen = 32
		}
		iterations, _ := wamp.AsInt64(ch.Extra["iterations"])
		if iterations <= 0 {
			iterations = 1000
		}
		key = pbkdf2.Key([]byte(secret), []byte(salt), int(iterations), int(keyLen), sha256.New)
	}

	return SignChallenge(chStr, key)
}
