// Package pkce implements verification of PKCE (Proof Key for Code
// Exchange) challenge/verifier pairs, as specified for binding the
// authorization step to the token-exchange step without a shared secret.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/delegationauth/core/pkg/model"
)

// ErrVerifierRequired indicates a challenge was recorded but no verifier
// was presented at exchange time.
var ErrVerifierRequired = errors.New("pkce: verifier required")

// ErrMismatch indicates the presented verifier does not match the
// recorded challenge.
var ErrMismatch = errors.New("pkce: verifier does not match challenge")

// ErrUnsupportedMethod indicates an unknown code-challenge method.
var ErrUnsupportedMethod = errors.New("pkce: unsupported method")

// Challenge computes the S256 code challenge for a verifier, as the
// authorization endpoint would when a client presents one of its own.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify checks verifier against the recorded (challenge, method) pair.
// If challenge is empty, no verifier was recorded at authorization time and
// verification trivially succeeds (PKCE is optional unless the caller
// chooses to require it unconditionally). If challenge is non-empty, an
// empty verifier fails with ErrVerifierRequired.
func Verify(challenge string, method model.PKCEMethod, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return ErrVerifierRequired
	}
	switch method {
	case model.PKCES256:
		computed := Challenge(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return ErrMismatch
		}
		return nil
	case model.PKCEPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return ErrMismatch
		}
		return nil
	default:
		return ErrUnsupportedMethod
	}
}
