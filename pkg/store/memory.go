package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/delegationauth/core/pkg/model"
)

// activityRingSize bounds the append-only activity log.
const activityRingSize = 1000

// MemoryStore is a concurrent-safe, process-wide, in-memory Store
// implementation. All reads and writes occur under a single RWMutex so
// compound operations (approval with counter increment, revocation with
// token-set update) are atomic: every mutation validates state, then
// commits, entirely under the lock.
type MemoryStore struct {
	mu sync.RWMutex

	agents      map[string]model.Agent
	users       map[string]model.User
	delegations map[string]model.Delegation

	activeTokens  map[string]struct{}
	revokedTokens map[string]struct{}

	activities []model.Activity
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:        make(map[string]model.Agent),
		users:         make(map[string]model.User),
		delegations:   make(map[string]model.Delegation),
		activeTokens:  make(map[string]struct{}),
		revokedTokens: make(map[string]struct{}),
	}
}

// --- Agents ---

func (s *MemoryStore) CreateAgent(a model.Agent) (model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[a.ID]; exists {
		return model.Agent{}, fmt.Errorf("agent %q: %w", a.ID, ErrAlreadyExists)
	}
	s.agents[a.ID] = a
	s.appendActivityLocked(model.Activity{
		Action:  "agent_created",
		AgentID: a.ID,
		Details: map[string]string{"name": a.Name},
	})
	return a, nil
}

func (s *MemoryStore) GetAgent(id string) (model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return model.Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) ListAgents(filter AgentFilter) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Agent, 0, len(s.agents))
	search := strings.ToLower(filter.Search)
	for _, a := range s.agents {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Name), search) &&
			!strings.Contains(strings.ToLower(a.Description), search) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) UpdateAgent(id string, update AgentUpdate) (model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return model.Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Description != nil {
		a.Description = *update.Description
	}
	if update.AllowedScopes != nil {
		a.AllowedScopes = *update.AllowedScopes
	}
	if update.Status != nil {
		a.Status = *update.Status
	}
	s.agents[id] = a
	s.appendActivityLocked(model.Activity{Action: "agent_updated", AgentID: id})
	return a, nil
}

// DeleteAgent removes the agent and cascades: every pending or approved
// delegation of this agent is revoked before the agent record disappears,
// so no orphaned delegation can later mint or retain a valid token.
func (s *MemoryStore) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()
	for delID, d := range s.delegations {
		if d.AgentID != id {
			continue
		}
		if d.Status != model.DelegationApproved && d.Status != model.DelegationPending {
			continue
		}
		s.revokeDelegationLocked(delID, now)
	}

	delete(s.agents, id)
	s.appendActivityLocked(model.Activity{Action: "agent_deleted", AgentID: id})
	return nil
}

func (s *MemoryStore) TouchAgent(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	a.Touch(now)
	s.agents[id] = a
	return nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return model.User{}, fmt.Errorf("user %q: %w", u.Username, ErrAlreadyExists)
	}
	s.users[u.Username] = u
	s.appendActivityLocked(model.Activity{Action: "user_created", User: u.Username})
	return u, nil
}

func (s *MemoryStore) GetUser(username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return u, nil
}

// ValidateUser compares secret against the bcrypt hash CreateUser stored.
func (s *MemoryStore) ValidateUser(username, secret string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return false, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Secret), []byte(secret)) == nil, nil
}

func (s *MemoryStore) ListUsernames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	return out, nil
}

// --- Delegations ---

func (s *MemoryStore) CreateDelegation(d model.Delegation) (model.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[d.AgentID]; !ok {
		return model.Delegation{}, fmt.Errorf("agent %q: %w", d.AgentID, ErrNotFound)
	}
	if _, ok := s.users[d.UserID]; !ok {
		return model.Delegation{}, fmt.Errorf("user %q: %w", d.UserID, ErrNotFound)
	}

	s.delegations[d.ID] = d
	s.appendActivityLocked(model.Activity{
		Action:       "delegation_created",
		User:         d.UserID,
		AgentID:      d.AgentID,
		DelegationID: d.ID,
	})
	return d, nil
}

func (s *MemoryStore) GetDelegation(id string) (model.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return model.Delegation{}, fmt.Errorf("delegation %q: %w", id, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) ListDelegations(filter DelegationFilter) ([]model.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Delegation, 0, len(s.delegations))
	for _, d := range s.delegations {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && d.AgentID != filter.AgentID {
			continue
		}
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) DenyDelegation(id string) (model.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegations[id]
	if !ok {
		return model.Delegation{}, fmt.Errorf("delegation %q: %w", id, ErrNotFound)
	}
	if d.Status != model.DelegationPending {
		return model.Delegation{}, fmt.Errorf("delegation %q: only pending delegations can be denied", id)
	}
	d.Status = model.DelegationDenied
	s.delegations[id] = d
	s.appendActivityLocked(model.Activity{
		Action: "delegation_denied", User: d.UserID, AgentID: d.AgentID, DelegationID: id,
	})
	return d, nil
}

func (s *MemoryStore) ApproveDelegation(id, delegationToken string, now time.Time) (model.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegations[id]
	if !ok {
		return model.Delegation{}, fmt.Errorf("delegation %q: %w", id, ErrNotFound)
	}
	if d.Status != model.DelegationPending {
		return model.Delegation{}, fmt.Errorf("delegation %q: only pending delegations can be approved", id)
	}
	if now.After(d.ExpiresAt) {
		d.Status = model.DelegationExpired
		s.delegations[id] = d
		return model.Delegation{}, fmt.Errorf("delegation %q: expired before approval", id)
	}

	approvedAt := now
	d.Status = model.DelegationApproved
	d.ApprovedAt = &approvedAt
	d.DelegationToken = delegationToken
	s.delegations[id] = d

	if agent, ok := s.agents[d.AgentID]; ok {
		agent.Touch(now)
		s.agents[d.AgentID] = agent
	}

	s.appendActivityLocked(model.Activity{
		Action: "delegation_approved", User: d.UserID, AgentID: d.AgentID, DelegationID: id,
	})
	return d, nil
}

func (s *MemoryStore) AttachAccessToken(id, accessToken string) (model.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegations[id]
	if !ok {
		return model.Delegation{}, fmt.Errorf("delegation %q: %w", id, ErrNotFound)
	}
	d.AccessToken = accessToken
	s.delegations[id] = d
	s.activeTokens[accessToken] = struct{}{}
	return d, nil
}

func (s *MemoryStore) RevokeDelegation(id string, now time.Time) (model.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegations[id]
	if !ok {
		return model.Delegation{}, fmt.Errorf("delegation %q: %w", id, ErrNotFound)
	}
	if d.Status != model.DelegationPending && d.Status != model.DelegationApproved {
		return model.Delegation{}, fmt.Errorf("delegation %q: only pending or approved delegations can be revoked", id)
	}
	return s.revokeDelegationLocked(id, now), nil
}

// revokeDelegationLocked performs the revoke mutation; callers must hold s.mu.
func (s *MemoryStore) revokeDelegationLocked(id string, now time.Time) model.Delegation {
	d := s.delegations[id]
	if d.DelegationToken != "" {
		s.revokedTokens[d.DelegationToken] = struct{}{}
	}
	if d.AccessToken != "" {
		s.revokedTokens[d.AccessToken] = struct{}{}
	}
	revokedAt := now
	d.Status = model.DelegationRevoked
	d.RevokedAt = &revokedAt
	s.delegations[id] = d

	s.appendActivityLocked(model.Activity{
		Action: "delegation_revoked", User: d.UserID, AgentID: d.AgentID, DelegationID: id,
	})
	return d
}

// --- Tokens ---

func (s *MemoryStore) AddActiveToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTokens[token] = struct{}{}
}

func (s *MemoryStore) MarkRevoked(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[token] = struct{}{}
	s.appendActivityLocked(model.Activity{Action: "token_revoked"})
}

func (s *MemoryStore) IsRevoked(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revokedTokens[token]
	return revoked
}

func (s *MemoryStore) ActiveTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.activeTokens))
	for t := range s.activeTokens {
		out = append(out, t)
	}
	return out
}

func (s *MemoryStore) PruneActiveToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTokens, token)
}

// --- Activities ---

func (s *MemoryStore) AppendActivity(a model.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendActivityLocked(a)
}

// appendActivityLocked appends to the ring buffer; callers must hold s.mu.
func (s *MemoryStore) appendActivityLocked(a model.Activity) {
	if a.ID == "" {
		a.ID = fmt.Sprintf("activity-%d-%d", time.Now().UnixNano(), len(s.activities))
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	s.activities = append(s.activities, a)
	if len(s.activities) > activityRingSize {
		s.activities = s.activities[len(s.activities)-activityRingSize:]
	}
}

func (s *MemoryStore) RecentActivities(limit int) []model.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 || limit > len(s.activities) {
		limit = len(s.activities)
	}
	out := make([]model.Activity, limit)
	copy(out, s.activities[len(s.activities)-limit:])
	return out
}

var _ Store = (*MemoryStore)(nil)
