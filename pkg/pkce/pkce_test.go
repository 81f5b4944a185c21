package pkce

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/delegationauth/core/pkg/model"
)

func TestVerifyS256(t *testing.T) {
	verifier := "a-very-random-code-verifier-string"
	challenge := Challenge(verifier)

	assert.NoError(t, Verify(challenge, model.PKCES256, verifier))
	assert.ErrorIs(t, Verify(challenge, model.PKCES256, "wrong-verifier"), ErrMismatch)
}

func TestVerifyPlain(t *testing.T) {
	verifier := "plaintext-verifier"
	assert.NoError(t, Verify(verifier, model.PKCEPlain, verifier))
	assert.ErrorIs(t, Verify(verifier, model.PKCEPlain, "not-it"), ErrMismatch)
}

func TestVerifyNoChallengeRecorded(t *testing.T) {
	assert.NoError(t, Verify("", model.PKCES256, ""))
	assert.NoError(t, Verify("", model.PKCES256, "anything"))
}

func TestVerifyMissingVerifier(t *testing.T) {
	challenge := Challenge("some-verifier")
	assert.ErrorIs(t, Verify(challenge, model.PKCES256, ""), ErrVerifierRequired)
}

func TestVerifyUnsupportedMethod(t *testing.T) {
	err := Verify("some-challenge", model.PKCEMethod("bogus"), "some-verifier")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}
