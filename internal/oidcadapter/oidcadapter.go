// Package oidcadapter implements the optional external-IdP authorization
// code flow: /authorize redirects to the configured IdP, and /callback
// exchanges the returned code for an id token, recovering the agent and
// PKCE parameters that were in flight when the redirect was issued.
//
// The upstream source drops PKCE fields across the IdP round trip (they
// live only in an in-process map keyed by state). This adapter instead
// HMAC-binds the agent id, scope, and PKCE fields into the opaque `state`
// parameter itself, so /callback recovers them without server-side
// session state and the binding survives a process restart between
// redirect and callback.
package oidcadapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/delegationauth/core/pkg/model"
)

// ErrInvalidState indicates the state parameter failed HMAC verification
// or could not be decoded.
var ErrInvalidState = errors.New("oidcadapter: invalid state")

// Config configures the adapter against a Keycloak-style OIDC issuer.
type Config struct {
	IssuerURL    string
	Realm        string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// StatePayload is the data HMAC-bound into the state parameter across the
// redirect/callback round trip.
type StatePayload struct {
	AgentID             string            `json:"agent_id"`
	Scope               []string          `json:"scope"`
	CodeChallenge       string            `json:"code_challenge,omitempty"`
	CodeChallengeMethod model.PKCEMethod  `json:"code_challenge_method,omitempty"`
}

// Adapter drives the authorization-code flow against the configured IdP.
type Adapter struct {
	oauth2Config oauth2.Config
	stateSecret  []byte
}

// New constructs an Adapter. stateSecret binds the state parameter and
// should be at least 32 bytes (the Signer's secret is a reasonable choice).
func New(cfg Config, stateSecret []byte) *Adapter {
	base := strings.TrimRight(cfg.IssuerURL, "/")
	return &Adapter{
		stateSecret: stateSecret,
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"openid"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("%s/realms/%s/protocol/openid-connect/auth", base, cfg.Realm),
				TokenURL: fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, cfg.Realm),
			},
		},
	}
}

// AuthCodeURL builds the redirect URL for the IdP's authorization endpoint,
// encoding payload into a signed, self-contained state parameter.
func (a *Adapter) AuthCodeURL(payload StatePayload) (string, error) {
	state, err := a.encodeState(payload)
	if err != nil {
		return "", err
	}
	return a.oauth2Config.AuthCodeURL(state), nil
}

// Exchange swaps an authorization code for tokens, recovers the bound
// StatePayload, and returns the id token's subject claim (the delegator).
func (a *Adapter) Exchange(ctx context.Context, code, state string) (subject string, payload StatePayload, err error) {
	payload, err = a.decodeState(state)
	if err != nil {
		return "", StatePayload{}, err
	}

	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", StatePayload{}, fmt.Errorf("oidcadapter: code exchange: %w", err)
	}

	idTokenRaw, ok := token.Extra("id_token").(string)
	if !ok || idTokenRaw == "" {
		return "", StatePayload{}, errors.New("oidcadapter: token response missing id_token")
	}

	claims := jwt.MapClaims{}
	// The id token's signature is verified by the IdP's own authorization-
	// code exchange (the code was already bound to this client over TLS);
	// only the subject claim is needed here, matching the source's
	// verify_signature=False extraction.
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idTokenRaw, claims); err != nil {
		return "", StatePayload{}, fmt.Errorf("oidcadapter: parse id_token: %w", err)
	}
	subject, _ = claims["sub"].(string)
	if subject == "" {
		return "", StatePayload{}, errors.New("oidcadapter: id_token missing sub")
	}
	return subject, payload, nil
}

func (a *Adapter) encodeState(payload StatePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("oidcadapter: encode state: %w", err)
	}
	encodedBody := base64.RawURLEncoding.EncodeToString(body)
	sig := a.sign(encodedBody)
	return encodedBody + "." + sig, nil
}

func (a *Adapter) decodeState(state string) (StatePayload, error) {
	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return StatePayload{}, ErrInvalidState
	}
	encodedBody, sig := parts[0], parts[1]
	if subtle.ConstantTimeCompare([]byte(a.sign(encodedBody)), []byte(sig)) != 1 {
		return StatePayload{}, ErrInvalidState
	}
	body, err := base64.RawURLEncoding.DecodeString(encodedBody)
	if err != nil {
		return StatePayload{}, ErrInvalidState
	}
	var payload StatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return StatePayload{}, ErrInvalidState
	}
	return payload, nil
}

func (a *Adapter) sign(encodedBody string) string {
	mac := hmac.New(sha256.New, a.stateSecret)
	mac.Write([]byte(encodedBody))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
