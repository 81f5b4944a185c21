package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delegationauth/core/pkg/apierr"
	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/pkce"
	"github.com/delegationauth/core/pkg/signer"
	"github.com/delegationauth/core/pkg/store"
)

func testSigner(t *testing.T) *signer.Signer {
	t.Helper()
	sgn, err := signer.New([]byte("0123456789abcdef0123456789abcdef"), signer.HS256)
	require.NoError(t, err)
	return sgn
}

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := New(st, testSigner(t), Config{
		Issuer:        "delegationauth-test",
		DelegationTTL: time.Hour,
		AccessTTL:     time.Minute,
	}, nil)
	return eng, st
}

func seedAgentAndUser(t *testing.T, st store.Store, scopes []string) {
	t.Helper()
	_, err := st.CreateAgent(model.Agent{
		ID:            "agent-1",
		Name:          "test agent",
		AllowedScopes: scopes,
		Status:        model.AgentActive,
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = st.CreateUser(model.User{Username: "alice", Secret: "hashed", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
}

func TestCreateDelegationRejectsScopeOutsideAllowed(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, []string{"read"})

	_, err := eng.CreateDelegation(context.Background(), CreateRequest{
		AgentID: "agent-1",
		UserID:  "alice",
		Scopes:  []string{"read", "write"},
	})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.Validation, apiErr.Code)
}

func TestCreateDelegationRejectsUnknownAgent(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	_, err := eng.CreateDelegation(context.Background(), CreateRequest{
		AgentID: "no-such-agent",
		UserID:  "alice",
	})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.AuthUnknownAgent, apiErr.Code)
}

func TestApproveRejectsSecondApproval(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	d, err := eng.CreateDelegation(context.Background(), CreateRequest{AgentID: "agent-1", UserID: "alice"})
	require.NoError(t, err)

	_, err = eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	_, err = eng.Approve(context.Background(), d.ID)
	require.Error(t, err)
}

func TestMintAccessScopeAndExpiryBound(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	d, err := eng.CreateDelegation(context.Background(), CreateRequest{
		AgentID: "agent-1",
		UserID:  "alice",
		Scopes:  []string{"read"},
	})
	require.NoError(t, err)

	approved, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	_, accessToken, err := eng.MintAccess(context.Background(), approved.DelegationToken, "")
	require.NoError(t, err)

	result := eng.Introspect(context.Background(), accessToken)
	assert.True(t, result.Active)
	assert.Equal(t, "alice", result.Subject)
	assert.Equal(t, "agent-1", result.Actor)
	assert.Equal(t, []string{"read"}, result.Scope)
}

func TestMintAccessRejectsExpiredDelegationToken(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, testSigner(t), Config{
		Issuer:        "delegationauth-test",
		DelegationTTL: time.Millisecond,
		AccessTTL:     time.Minute,
	}, nil)
	seedAgentAndUser(t, st, nil)

	d, err := eng.CreateDelegation(context.Background(), CreateRequest{AgentID: "agent-1", UserID: "alice"})
	require.NoError(t, err)
	approved, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, _, err = eng.MintAccess(context.Background(), approved.DelegationToken, "")
	require.Error(t, err)
}

func TestIntrospectReportsInactiveAfterRevocation(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	d, err := eng.CreateDelegation(context.Background(), CreateRequest{AgentID: "agent-1", UserID: "alice"})
	require.NoError(t, err)
	approved, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)
	_, accessToken, err := eng.MintAccess(context.Background(), approved.DelegationToken, "")
	require.NoError(t, err)

	before := eng.Introspect(context.Background(), accessToken)
	require.True(t, before.Active)

	_, err = eng.RevokeDelegation(context.Background(), d.ID)
	require.NoError(t, err)

	after := eng.Introspect(context.Background(), accessToken)
	assert.False(t, after.Active)
}

func TestRevokeTokenIsIdempotentForUnknownTokens(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.RevokeToken(context.Background(), "never-issued-token")
	eng.RevokeToken(context.Background(), "never-issued-token")

	result := eng.Introspect(context.Background(), "never-issued-token")
	assert.False(t, result.Active)
}

func TestMintAccessEnforcesPKCE(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	verifier := "a-genuinely-random-verifier-value"
	d, err := eng.CreateDelegation(context.Background(), CreateRequest{
		AgentID:             "agent-1",
		UserID:              "alice",
		CodeChallenge:       pkce.Challenge(verifier),
		CodeChallengeMethod: model.PKCES256,
	})
	require.NoError(t, err)
	approved, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	_, _, err = eng.MintAccess(context.Background(), approved.DelegationToken, "")
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.PKCERequired, apiErr.Code)

	_, _, err = eng.MintAccess(context.Background(), approved.DelegationToken, "wrong-verifier")
	require.Error(t, err)
	apiErr, ok = err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.PKCEMismatch, apiErr.Code)

	_, accessToken, err := eng.MintAccess(context.Background(), approved.DelegationToken, verifier)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
}

func TestDenyRejectsNonPendingDelegation(t *testing.T) {
	eng, st := newTestEngine(t)
	seedAgentAndUser(t, st, nil)

	d, err := eng.CreateDelegation(context.Background(), CreateRequest{AgentID: "agent-1", UserID: "alice"})
	require.NoError(t, err)
	_, err = eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	_, err = eng.Deny(context.Background(), d.ID)
	assert.Error(t, err)
}
