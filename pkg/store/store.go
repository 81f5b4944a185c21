// Package store defines the persistence contract for the authorization
// core: agents, users, delegations, the active/revoked token sets, and the
// activity log, plus a concurrent-safe in-memory implementation.
package store

import (
	"errors"
	"time"

	"github.com/delegationauth/core/pkg/model"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// AgentFilter narrows a ListAgents call.
type AgentFilter struct {
	Status model.AgentStatus
	Search string // substring match on name/description
}

// DelegationFilter narrows a ListDelegations call.
type DelegationFilter struct {
	Status  model.DelegationStatus
	AgentID string
	UserID  string
}

// AgentUpdate carries the mutable subset of Agent fields; nil fields are
// left unchanged.
type AgentUpdate struct {
	Name          *string
	Description   *string
	AllowedScopes *[]string
	Status        *model.AgentStatus
}

// Store is the persistence contract the Delegation Engine and HTTP
// surfaces are built against. A single implementation may back every
// method with a single logical lock (as MemoryStore does) or with a
// transactional backend (e.g. Postgres); callers only depend on this
// interface.
type Store interface {
	// Agents
	CreateAgent(a model.Agent) (model.Agent, error)
	GetAgent(id string) (model.Agent, error)
	ListAgents(filter AgentFilter) ([]model.Agent, error)
	UpdateAgent(id string, update AgentUpdate) (model.Agent, error)
	DeleteAgent(id string) error
	TouchAgent(id string, now time.Time) error

	// Users
	CreateUser(u model.User) (model.User, error)
	GetUser(username string) (model.User, error)
	ValidateUser(username, secret string) (bool, error)
	ListUsernames() ([]string, error)

	// Delegations
	CreateDelegation(d model.Delegation) (model.Delegation, error)
	GetDelegation(id string) (model.Delegation, error)
	ListDelegations(filter DelegationFilter) ([]model.Delegation, error)
	DenyDelegation(id string) (model.Delegation, error)

	// ApproveDelegation atomically transitions a pending delegation to
	// approved, records delegationToken, touches the owning agent's
	// last-used timestamp and delegation counter, all under one lock.
	ApproveDelegation(id, delegationToken string, now time.Time) (model.Delegation, error)

	// AttachAccessToken atomically records a freshly minted access token on
	// an approved delegation and adds it to the active-token set.
	AttachAccessToken(id, accessToken string) (model.Delegation, error)

	// RevokeDelegation atomically marks a delegation revoked and moves its
	// delegation token and access token (if any) into the revocation set.
	RevokeDelegation(id string, now time.Time) (model.Delegation, error)

	// Tokens
	AddActiveToken(token string)
	MarkRevoked(token string)
	IsRevoked(token string) bool
	ActiveTokens() []string
	PruneActiveToken(token string)

	// Activities
	AppendActivity(a model.Activity)
	RecentActivities(limit int) []model.Activity
}
