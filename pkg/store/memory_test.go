package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/delegationauth/core/pkg/model"
)

func newTestAgent(id string) model.Agent {
	return model.Agent{ID: id, Name: "agent", Status: model.AgentActive, CreatedAt: time.Now().UTC()}
}

func newTestUser(username string) model.User {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correct-secret"), bcrypt.MinCost)
	return model.User{Username: username, Secret: string(hashed), CreatedAt: time.Now().UTC()}
}

func TestCreateAgentRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(newTestAgent("agent-1"))
	require.NoError(t, err)

	_, err = s.CreateAgent(newTestAgent("agent-1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestValidateUserBcrypt(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateUser(newTestUser("alice"))
	require.NoError(t, err)

	ok, err := s.ValidateUser("alice", "correct-secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ValidateUser("alice", "wrong-secret")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ValidateUser("nobody", "anything")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveDelegationRejectsSecondApproval(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(newTestAgent("agent-1"))
	require.NoError(t, err)
	_, err = s.CreateUser(newTestUser("alice"))
	require.NoError(t, err)

	d, err := s.CreateDelegation(model.Delegation{
		ID:        "delegation-1",
		AgentID:   "agent-1",
		UserID:    "alice",
		Status:    model.DelegationPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	approved, err := s.ApproveDelegation(d.ID, "delegation-token", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.DelegationApproved, approved.Status)

	_, err = s.ApproveDelegation(d.ID, "delegation-token-2", time.Now())
	assert.Error(t, err)
}

func TestApproveDelegationExpiresBeforeApproval(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(newTestAgent("agent-1"))
	require.NoError(t, err)
	_, err = s.CreateUser(newTestUser("alice"))
	require.NoError(t, err)

	now := time.Now()
	d, err := s.CreateDelegation(model.Delegation{
		ID:        "delegation-1",
		AgentID:   "agent-1",
		UserID:    "alice",
		Status:    model.DelegationPending,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = s.ApproveDelegation(d.ID, "token", now)
	assert.Error(t, err)

	reloaded, err := s.GetDelegation(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DelegationExpired, reloaded.Status)
}

func TestRevokeDelegationMovesTokensToRevokedSet(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(newTestAgent("agent-1"))
	require.NoError(t, err)
	_, err = s.CreateUser(newTestUser("alice"))
	require.NoError(t, err)

	d, err := s.CreateDelegation(model.Delegation{
		ID:        "delegation-1",
		AgentID:   "agent-1",
		UserID:    "alice",
		Status:    model.DelegationPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = s.ApproveDelegation(d.ID, "delegation-token", time.Now())
	require.NoError(t, err)
	_, err = s.AttachAccessToken(d.ID, "access-token")
	require.NoError(t, err)

	revoked, err := s.RevokeDelegation(d.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.DelegationRevoked, revoked.Status)
	assert.True(t, s.IsRevoked("delegation-token"))
	assert.True(t, s.IsRevoked("access-token"))

	_, err = s.RevokeDelegation(d.ID, time.Now())
	assert.Error(t, err, "revoking an already-revoked delegation must fail")
}

func TestDeleteAgentCascadesRevocation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(newTestAgent("agent-1"))
	require.NoError(t, err)
	_, err = s.CreateUser(newTestUser("alice"))
	require.NoError(t, err)

	d, err := s.CreateDelegation(model.Delegation{
		ID:        "delegation-1",
		AgentID:   "agent-1",
		UserID:    "alice",
		Status:    model.DelegationPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = s.ApproveDelegation(d.ID, "delegation-token", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.DeleteAgent("agent-1"))

	reloaded, err := s.GetDelegation(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DelegationRevoked, reloaded.Status)

	_, err = s.GetAgent("agent-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAgentAppliesOnlyProvidedFields(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(model.Agent{
		ID:            "agent-1",
		Name:          "agent",
		Description:   "original description",
		AllowedScopes: []string{"read"},
		Status:        model.AgentActive,
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	newDescription := "updated description"
	updated, err := s.UpdateAgent("agent-1", AgentUpdate{Description: &newDescription})
	require.NoError(t, err)
	assert.Equal(t, "updated description", updated.Description)
	assert.Equal(t, "agent", updated.Name, "fields left nil must not change")
	assert.Equal(t, []string{"read"}, updated.AllowedScopes)

	suspended := model.AgentSuspended
	updated, err = s.UpdateAgent("agent-1", AgentUpdate{Status: &suspended})
	require.NoError(t, err)
	assert.Equal(t, model.AgentSuspended, updated.Status)
	assert.Equal(t, "updated description", updated.Description, "prior update must persist")
}

func TestUpdateAgentUnknownIDFails(t *testing.T) {
	s := NewMemoryStore()
	name := "renamed"
	_, err := s.UpdateAgent("no-such-agent", AgentUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentActivitiesClampsToLimit(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 10; i++ {
		s.AppendActivity(model.Activity{Action: "test_event"})
	}

	activities := s.RecentActivities(3)
	assert.Len(t, activities, 3)

	all := s.RecentActivities(0)
	assert.Len(t, all, 10)
}

func TestListAgentsFiltersByStatusAndSearch(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateAgent(model.Agent{ID: "a1", Name: "Billing Agent", Status: model.AgentActive})
	require.NoError(t, err)
	_, err = s.CreateAgent(model.Agent{ID: "a2", Name: "Support Agent", Status: model.AgentSuspended})
	require.NoError(t, err)

	active, err := s.ListAgents(AgentFilter{Status: model.AgentActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	matches, err := s.ListAgents(AgentFilter{Search: "support"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, "a2", matches[0].ID)
}
