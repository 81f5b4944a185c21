// Package engine implements the Delegation Engine: the sole mutator of
// delegation status and token sets. It owns the state-machine invariants
// (pending -> approved|denied; approved -> revoked|expired) and is the only
// component permitted to mint delegation and access tokens.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/delegationauth/core/internal/tracing"
	"github.com/delegationauth/core/pkg/apierr"
	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/pkce"
	"github.com/delegationauth/core/pkg/signer"
	"github.com/delegationauth/core/pkg/store"
)

// Config holds the Engine's TTL policy. All fields are immutable after
// construction, per the concurrency model's configuration guarantee.
type Config struct {
	Issuer          string
	DelegationTTL   time.Duration
	AccessTTL       time.Duration
}

// Engine orchestrates the delegation lifecycle: create -> approve/deny ->
// mint delegation token -> exchange for access token -> revoke.
type Engine struct {
	store  store.Store
	signer *signer.Signer
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time
}

// New constructs an Engine. tracer may be nil, in which case spans are
// started against the global no-op tracer.
func New(st store.Store, sgn *signer.Signer, cfg Config, tracer trace.Tracer) *Engine {
	if cfg.DelegationTTL <= 0 {
		cfg.DelegationTTL = 10 * time.Minute
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("delegation-engine")
	}
	return &Engine{store: st, signer: sgn, cfg: cfg, tracer: tracer, now: time.Now}
}

// CreateRequest carries the inputs to CreateDelegation.
type CreateRequest struct {
	AgentID             string
	UserID              string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod model.PKCEMethod
}

// CreateDelegation validates the agent and user exist, that the agent is
// active, and that the requested scopes are a subset of the agent's
// allowed scopes, then records a pending delegation with expires_at set to
// now + delegation_ttl.
func (e *Engine) CreateDelegation(ctx context.Context, req CreateRequest) (result model.Delegation, err error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanCreateDelegation)
	defer span.End()
	defer func() { recordOutcome("create", err) }()
	span.SetAttributes(tracing.AttributeAgentID.String(req.AgentID), tracing.AttributeUserID.String(req.UserID))

	agent, err := e.store.GetAgent(req.AgentID)
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.AuthUnknownAgent, "agent not registered").WithCause(err)
	}
	if !agent.IsActive() {
		return model.Delegation{}, apierr.New(apierr.AuthUnknownAgent, "agent is not active")
	}
	if _, err := e.store.GetUser(req.UserID); err != nil {
		return model.Delegation{}, apierr.New(apierr.AuthUnknownUser, "user not registered").WithCause(err)
	}
	if !agent.AllowsScopes(req.Scopes) {
		return model.Delegation{}, apierr.New(apierr.Validation, "requested scope exceeds agent's allowed scopes")
	}

	now := e.now()
	d := model.Delegation{
		ID:                  uuid.New().String(),
		AgentID:             req.AgentID,
		UserID:              req.UserID,
		Scopes:              req.Scopes,
		Status:              model.DelegationPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(e.cfg.DelegationTTL),
		PKCEChallenge:       req.CodeChallenge,
		PKCEMethod:          req.CodeChallengeMethod,
	}
	return e.store.CreateDelegation(d)
}

// Approve transitions a pending, unexpired delegation to approved, minting
// and recording the delegation token in one atomic Store operation.
func (e *Engine) Approve(ctx context.Context, delegationID string) (result model.Delegation, err error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanApprove)
	defer span.End()
	defer func() { recordOutcome("approve", err) }()
	span.SetAttributes(tracing.AttributeDelegationID.String(delegationID))

	d, err := e.loadLive(delegationID)
	if err != nil {
		return model.Delegation{}, err
	}
	if d.Status != model.DelegationPending {
		return model.Delegation{}, apierr.New(apierr.DelegationNotApproved, "delegation is not pending")
	}

	now := e.now()
	token, jti, err := e.signDelegationToken(d, now)
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.Internal, "failed to sign delegation token").WithCause(err)
	}
	_ = jti

	approved, err := e.store.ApproveDelegation(delegationID, token, now)
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.DelegationNotApproved, "approval failed").WithCause(err)
	}
	return approved, nil
}

// Deny transitions a pending delegation to denied.
func (e *Engine) Deny(ctx context.Context, delegationID string) (result model.Delegation, err error) {
	_, span := e.tracer.Start(ctx, tracing.SpanDeny)
	defer span.End()
	defer func() { recordOutcome("deny", err) }()
	span.SetAttributes(tracing.AttributeDelegationID.String(delegationID))

	d, err := e.store.DenyDelegation(delegationID)
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.DelegationNotApproved, "delegation is not pending").WithCause(err)
	}
	return d, nil
}

// MintAccess verifies signature, expiry and PKCE on a delegation token,
// then mints a fresh access token bound to the same delegation. Repeated
// calls on the same delegation are permitted: each produces a fresh token
// with a fresh jti, and previously minted tokens remain valid until their
// own expiry or an explicit revocation.
func (e *Engine) MintAccess(ctx context.Context, delegationToken, codeVerifier string) (result model.Delegation, accessToken string, err error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanMintAccess)
	defer span.End()
	defer func() { recordOutcome("mint_access", err) }()

	claims, err := e.signer.Verify(delegationToken)
	if err != nil {
		return model.Delegation{}, "", classifySignerError(err)
	}

	delegationID, _ := claims["delegation_id"].(string)
	d, err := e.loadLive(delegationID)
	if err != nil {
		return model.Delegation{}, "", err
	}
	span.SetAttributes(tracing.AttributeDelegationID.String(delegationID))

	if d.Status != model.DelegationApproved {
		if d.Status == model.DelegationRevoked {
			return model.Delegation{}, "", apierr.New(apierr.DelegationRevoked, "delegation has been revoked")
		}
		return model.Delegation{}, "", apierr.New(apierr.DelegationNotApproved, "delegation is not approved")
	}
	if e.store.IsRevoked(delegationToken) {
		return model.Delegation{}, "", apierr.New(apierr.TokenRevoked, "delegation token has been revoked")
	}

	if d.HasPKCE() {
		if err := pkce.Verify(d.PKCEChallenge, d.PKCEMethod, codeVerifier); err != nil {
			if err == pkce.ErrVerifierRequired {
				return model.Delegation{}, "", apierr.New(apierr.PKCERequired, "code verifier required")
			}
			return model.Delegation{}, "", apierr.New(apierr.PKCEMismatch, "code verifier does not match challenge")
		}
	}

	now := e.now()
	exp := now.Add(e.cfg.AccessTTL)
	if exp.After(d.ExpiresAt) {
		exp = d.ExpiresAt
	}

	accessToken, err = e.signAccessToken(d, now, exp)
	if err != nil {
		return model.Delegation{}, "", apierr.New(apierr.Internal, "failed to sign access token").WithCause(err)
	}

	updated, err := e.store.AttachAccessToken(delegationID, accessToken)
	if err != nil {
		return model.Delegation{}, "", apierr.New(apierr.Internal, "failed to record access token").WithCause(err)
	}
	return updated, accessToken, nil
}

// RevokeToken marks a token (delegation or access) revoked. Per spec this
// operation is idempotent and always succeeds, regardless of whether the
// token is well-formed, already revoked, or unknown.
func (e *Engine) RevokeToken(ctx context.Context, token string) {
	_, span := e.tracer.Start(ctx, tracing.SpanRevoke)
	defer span.End()
	defer func() { recordOutcome("revoke_token", nil) }()
	e.store.MarkRevoked(token)
}

// RevokeDelegation revokes a delegation by id, moving both its delegation
// token and access token (if any) into the revocation set.
func (e *Engine) RevokeDelegation(ctx context.Context, delegationID string) (result model.Delegation, err error) {
	_, span := e.tracer.Start(ctx, tracing.SpanRevoke)
	defer span.End()
	defer func() { recordOutcome("revoke", err) }()
	span.SetAttributes(tracing.AttributeDelegationID.String(delegationID))

	d, err := e.store.RevokeDelegation(delegationID, e.now())
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.Validation, "delegation cannot be revoked from its current state").WithCause(err)
	}
	return d, nil
}

// IntrospectResult is the outcome of Introspect.
type IntrospectResult struct {
	Active       bool
	Subject      string
	Actor        string
	Scope        []string
	DelegationID string
}

// Introspect reports whether token is active: signature verifies, it is
// not expired, it is not in the revocation set, and its associated
// delegation is approved.
func (e *Engine) Introspect(ctx context.Context, token string) (result IntrospectResult) {
	_, span := e.tracer.Start(ctx, tracing.SpanIntrospect)
	defer span.End()
	defer func() {
		if !result.Active {
			recordOutcome("introspect", apierr.New(apierr.TokenInvalid, "inactive"))
			return
		}
		recordOutcome("introspect", nil)
	}()

	if e.store.IsRevoked(token) {
		return IntrospectResult{Active: false}
	}
	claims, err := e.signer.Verify(token)
	if err != nil {
		return IntrospectResult{Active: false}
	}
	delegationID, _ := claims["delegation_id"].(string)
	d, err := e.store.GetDelegation(delegationID)
	if err != nil || d.Status != model.DelegationApproved {
		return IntrospectResult{Active: false}
	}

	result = IntrospectResult{Active: true, DelegationID: delegationID}
	if sub, ok := claims["sub"].(string); ok {
		result.Subject = sub
	}
	if actor, ok := claims["actor"].(string); ok {
		result.Actor = actor
	}
	result.Scope = stringSlice(claims["scope"])
	return result
}

// loadLive fetches a delegation and applies the lazy expiry guard: a
// pending or approved delegation whose expires_at has passed is rejected
// with DelegationExpired. The stored status is not changed here; it stays
// pending or approved in the Store.
func (e *Engine) loadLive(delegationID string) (model.Delegation, error) {
	d, err := e.store.GetDelegation(delegationID)
	if err != nil {
		return model.Delegation{}, apierr.New(apierr.Validation, "delegation not found").WithCause(err)
	}
	if (d.Status == model.DelegationPending || d.Status == model.DelegationApproved) && d.IsExpired(e.now()) {
		return model.Delegation{}, apierr.New(apierr.DelegationExpired, "delegation has expired")
	}
	return d, nil
}

func (e *Engine) signDelegationToken(d model.Delegation, now time.Time) (token, jti string, err error) {
	jti = uuid.New().String()
	claims := map[string]interface{}{
		"iss":                    e.cfg.Issuer,
		"sub":                    d.AgentID,
		"delegator":              d.UserID,
		"scope":                  d.Scopes,
		"iat":                    now.Unix(),
		"exp":                    d.ExpiresAt.Unix(),
		"jti":                    jti,
		"delegation_id":          d.ID,
		"code_challenge":         d.PKCEChallenge,
		"code_challenge_method":  string(d.PKCEMethod),
	}
	token, err = e.signer.Sign(claims)
	return token, jti, err
}

func (e *Engine) signAccessToken(d model.Delegation, now, exp time.Time) (string, error) {
	claims := map[string]interface{}{
		"iss":           e.cfg.Issuer,
		"sub":           d.UserID,
		"actor":         d.AgentID,
		"scope":         d.Scopes,
		"iat":           now.Unix(),
		"exp":           exp.Unix(),
		"jti":           uuid.New().String(),
		"delegation_id": d.ID,
	}
	return e.signer.Sign(claims)
}

func classifySignerError(err error) error {
	switch err {
	case signer.ErrExpired:
		return apierr.New(apierr.TokenExpired, "delegation token expired").WithCause(err)
	case signer.ErrWrongAlgorithm:
		return apierr.New(apierr.TokenInvalid, "delegation token uses an unexpected algorithm").WithCause(err)
	default:
		return apierr.New(apierr.TokenInvalid, "delegation token is invalid").WithCause(err)
	}
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
