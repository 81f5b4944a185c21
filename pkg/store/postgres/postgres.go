// Package postgres implements store.Store against PostgreSQL, for
// deployments that need delegation state to survive a process restart.
// Every compound operation MemoryStore performs under a single mutex is
// performed here inside a single SQL transaction, giving the same
// atomicity guarantee across process boundaries.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agents (
	id text PRIMARY KEY,
	name text NOT NULL,
	description text NOT NULL DEFAULT '',
	allowed_scopes jsonb NOT NULL DEFAULT '[]',
	status text NOT NULL,
	created_at timestamptz NOT NULL,
	last_used_at timestamptz,
	delegation_count integer NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
	username text PRIMARY KEY,
	secret text NOT NULL,
	subject text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS delegations (
	id text PRIMARY KEY,
	agent_id text NOT NULL,
	user_id text NOT NULL,
	scopes jsonb NOT NULL DEFAULT '[]',
	status text NOT NULL,
	created_at timestamptz NOT NULL,
	approved_at timestamptz,
	expires_at timestamptz NOT NULL,
	revoked_at timestamptz,
	delegation_token text NOT NULL DEFAULT '',
	access_token text NOT NULL DEFAULT '',
	pkce_challenge text NOT NULL DEFAULT '',
	pkce_method text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_delegations_agent ON delegations(agent_id);
CREATE INDEX IF NOT EXISTS idx_delegations_user ON delegations(user_id);
CREATE INDEX IF NOT EXISTS idx_delegations_status ON delegations(status);

CREATE TABLE IF NOT EXISTS active_tokens (
	token text PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	token text PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS activities (
	id text PRIMARY KEY,
	timestamp timestamptz NOT NULL,
	action text NOT NULL,
	details jsonb NOT NULL DEFAULT '{}',
	username text NOT NULL DEFAULT '',
	agent_id text NOT NULL DEFAULT '',
	delegation_id text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp DESC);
`

// Config configures a Store's connection to PostgreSQL.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a store.Store implementation backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens the connection pool, pings it, and ensures the schema exists.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateAgent(a model.Agent) (model.Agent, error) {
	scopes, err := json.Marshal(a.AllowedScopes)
	if err != nil {
		return model.Agent{}, err
	}
	_, err = s.db.Exec(
		`INSERT INTO agents (id, name, description, allowed_scopes, status, created_at, delegation_count)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)`,
		a.ID, a.Name, a.Description, scopes, a.Status, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.Agent{}, store.ErrAlreadyExists
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("postgres: create agent: %w", err)
	}
	s.logActivity("agent_created", "", a.ID, "")
	return a, nil
}

func (s *Store) GetAgent(id string) (model.Agent, error) {
	return s.scanAgent(s.db.QueryRow(
		`SELECT id, name, description, allowed_scopes, status, created_at, last_used_at, delegation_count
		 FROM agents WHERE id = $1`, id))
}

func (s *Store) scanAgent(row *sql.Row) (model.Agent, error) {
	var a model.Agent
	var scopes []byte
	var lastUsed sql.NullTime
	err := row.Scan(&a.ID, &a.Name, &a.Description, &scopes, &a.Status, &a.CreatedAt, &lastUsed, &a.DelegationCount)
	if err == sql.ErrNoRows {
		return model.Agent{}, store.ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("postgres: get agent: %w", err)
	}
	if err := json.Unmarshal(scopes, &a.AllowedScopes); err != nil {
		return model.Agent{}, err
	}
	if lastUsed.Valid {
		a.LastUsedAt = &lastUsed.Time
	}
	return a, nil
}

func (s *Store) ListAgents(filter store.AgentFilter) ([]model.Agent, error) {
	query := `SELECT id, name, description, allowed_scopes, status, created_at, last_used_at, delegation_count FROM agents WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		var scopes []byte
		var lastUsed sql.NullTime
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &scopes, &a.Status, &a.CreatedAt, &lastUsed, &a.DelegationCount); err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		if err := json.Unmarshal(scopes, &a.AllowedScopes); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			a.LastUsedAt = &lastUsed.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateAgent(id string, update store.AgentUpdate) (model.Agent, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Agent{}, err
	}
	defer tx.Rollback()

	var a model.Agent
	var scopes []byte
	var lastUsed sql.NullTime
	err = tx.QueryRow(
		`SELECT id, name, description, allowed_scopes, status, created_at, last_used_at, delegation_count
		 FROM agents WHERE id = $1 FOR UPDATE`, id,
	).Scan(&a.ID, &a.Name, &a.Description, &scopes, &a.Status, &a.CreatedAt, &lastUsed, &a.DelegationCount)
	if err == sql.ErrNoRows {
		return model.Agent{}, store.ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("postgres: update agent: %w", err)
	}
	if err := json.Unmarshal(scopes, &a.AllowedScopes); err != nil {
		return model.Agent{}, err
	}
	if lastUsed.Valid {
		a.LastUsedAt = &lastUsed.Time
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
	newScopes, err := json.Marshal(a.AllowedScopes)
	if err != nil {
		return model.Agent{}, err
	}
	if _, err := tx.Exec(
		`UPDATE agents SET name = $1, description = $2, allowed_scopes = $3, status = $4 WHERE id = $5`,
		a.Name, a.Description, newScopes, a.Status, id,
	); err != nil {
		return model.Agent{}, fmt.Errorf("postgres: update agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Agent{}, err
	}
	return a, nil
}

func (s *Store) DeleteAgent(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO revoked_tokens (token)
		 SELECT t FROM delegations, unnest(ARRAY[delegation_token, access_token]) AS t
		 WHERE agent_id = $1 AND status IN ('pending', 'approved') AND t <> ''
		 ON CONFLICT DO NOTHING`, id,
	); err != nil {
		return fmt.Errorf("postgres: cascade revoke tokens: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE delegations SET status = 'revoked', revoked_at = $1
		 WHERE agent_id = $2 AND status IN ('pending', 'approved')`, now, id,
	); err != nil {
		return fmt.Errorf("postgres: cascade revoke: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logActivity("agent_deleted", "", id, "")
	return nil
}

func (s *Store) TouchAgent(id string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE agents SET last_used_at = $1, delegation_count = delegation_count + 1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("postgres: touch agent: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(u model.User) (model.User, error) {
	_, err := s.db.Exec(
		`INSERT INTO users (username, secret, subject, created_at) VALUES ($1, $2, $3, $4)`,
		u.Username, u.Secret, u.Subject, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.User{}, store.ErrAlreadyExists
	}
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: create user: %w", err)
	}
	s.logActivity("user_created", u.Username, "", "")
	return u, nil
}

func (s *Store) GetUser(username string) (model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT username, secret, subject, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.Username, &u.Secret, &u.Subject, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, store.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

// ValidateUser compares secret against the bcrypt hash CreateUser stored.
func (s *Store) ValidateUser(username, secret string) (bool, error) {
	u, err := s.GetUser(username)
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Secret), []byte(secret)) == nil, nil
}

func (s *Store) ListUsernames() ([]string, error) {
	rows, err := s.db.Query(`SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list usernames: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) CreateDelegation(d model.Delegation) (model.Delegation, error) {
	scopes, err := json.Marshal(d.Scopes)
	if err != nil {
		return model.Delegation{}, err
	}
	_, err = s.db.Exec(
		`INSERT INTO delegations (id, agent_id, user_id, scopes, status, created_at, expires_at, pkce_challenge, pkce_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.AgentID, d.UserID, scopes, d.Status, d.CreatedAt, d.ExpiresAt, d.PKCEChallenge, d.PKCEMethod,
	)
	if isUniqueViolation(err) {
		return model.Delegation{}, store.ErrAlreadyExists
	}
	if err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: create delegation: %w", err)
	}
	s.logActivity("delegation_created", d.UserID, d.AgentID, d.ID)
	return d, nil
}

func (s *Store) GetDelegation(id string) (model.Delegation, error) {
	return s.scanDelegationTx(s.db, id)
}

func (s *Store) scanDelegationTx(q querier, id string) (model.Delegation, error) {
	var d model.Delegation
	var scopes []byte
	var approvedAt, revokedAt sql.NullTime
	err := q.QueryRow(
		`SELECT id, agent_id, user_id, scopes, status, created_at, approved_at, expires_at, revoked_at,
		        delegation_token, access_token, pkce_challenge, pkce_method
		 FROM delegations WHERE id = $1`, id,
	).Scan(&d.ID, &d.AgentID, &d.UserID, &scopes, &d.Status, &d.CreatedAt, &approvedAt, &d.ExpiresAt, &revokedAt,
		&d.DelegationToken, &d.AccessToken, &d.PKCEChallenge, &d.PKCEMethod)
	if err == sql.ErrNoRows {
		return model.Delegation{}, store.ErrNotFound
	}
	if err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: get delegation: %w", err)
	}
	if err := json.Unmarshal(scopes, &d.Scopes); err != nil {
		return model.Delegation{}, err
	}
	if approvedAt.Valid {
		d.ApprovedAt = &approvedAt.Time
	}
	if revokedAt.Valid {
		d.RevokedAt = &revokedAt.Time
	}
	return d, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting
// scanDelegationTx run inside or outside a transaction.
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (s *Store) ListDelegations(filter store.DelegationFilter) ([]model.Delegation, error) {
	query := `SELECT id, agent_id, user_id, scopes, status, created_at, approved_at, expires_at, revoked_at,
	                  delegation_token, access_token, pkce_challenge, pkce_method
	          FROM delegations WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delegations: %w", err)
	}
	defer rows.Close()

	var out []model.Delegation
	for rows.Next() {
		var d model.Delegation
		var scopes []byte
		var approvedAt, revokedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.AgentID, &d.UserID, &scopes, &d.Status, &d.CreatedAt, &approvedAt, &d.ExpiresAt,
			&revokedAt, &d.DelegationToken, &d.AccessToken, &d.PKCEChallenge, &d.PKCEMethod); err != nil {
			return nil, fmt.Errorf("postgres: scan delegation: %w", err)
		}
		if err := json.Unmarshal(scopes, &d.Scopes); err != nil {
			return nil, err
		}
		if approvedAt.Valid {
			d.ApprovedAt = &approvedAt.Time
		}
		if revokedAt.Valid {
			d.RevokedAt = &revokedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DenyDelegation(id string) (model.Delegation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Delegation{}, err
	}
	defer tx.Rollback()

	d, err := s.scanDelegationTx(tx, id)
	if err != nil {
		return model.Delegation{}, err
	}
	if d.Status != model.DelegationPending {
		return model.Delegation{}, fmt.Errorf("postgres: delegation %s is not pending", id)
	}
	if _, err := tx.Exec(`UPDATE delegations SET status = 'denied' WHERE id = $1`, id); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: deny delegation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Delegation{}, err
	}
	d.Status = model.DelegationDenied
	s.logActivity("delegation_denied", d.UserID, d.AgentID, d.ID)
	return d, nil
}

func (s *Store) ApproveDelegation(id, delegationToken string, now time.Time) (model.Delegation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Delegation{}, err
	}
	defer tx.Rollback()

	d, err := s.scanDelegationTx(tx, id)
	if err != nil {
		return model.Delegation{}, err
	}
	if d.Status != model.DelegationPending {
		return model.Delegation{}, fmt.Errorf("postgres: delegation %s is not pending", id)
	}
	if now.After(d.ExpiresAt) {
		if _, err := tx.Exec(`UPDATE delegations SET status = 'expired' WHERE id = $1`, id); err != nil {
			return model.Delegation{}, err
		}
		if err := tx.Commit(); err != nil {
			return model.Delegation{}, err
		}
		return model.Delegation{}, fmt.Errorf("postgres: delegation %s has expired", id)
	}

	if _, err := tx.Exec(
		`UPDATE delegations SET status = 'approved', approved_at = $1, delegation_token = $2 WHERE id = $3`,
		now, delegationToken, id,
	); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: approve delegation: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE agents SET last_used_at = $1, delegation_count = delegation_count + 1 WHERE id = $2`,
		now, d.AgentID,
	); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: touch agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Delegation{}, err
	}

	d.Status = model.DelegationApproved
	d.ApprovedAt = &now
	d.DelegationToken = delegationToken
	s.logActivity("delegation_approved", d.UserID, d.AgentID, d.ID)
	return d, nil
}

func (s *Store) AttachAccessToken(id, accessToken string) (model.Delegation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Delegation{}, err
	}
	defer tx.Rollback()

	d, err := s.scanDelegationTx(tx, id)
	if err != nil {
		return model.Delegation{}, err
	}
	if _, err := tx.Exec(`UPDATE delegations SET access_token = $1 WHERE id = $2`, accessToken, id); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: attach access token: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO active_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING`, accessToken); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: record active token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Delegation{}, err
	}
	d.AccessToken = accessToken
	return d, nil
}

func (s *Store) RevokeDelegation(id string, now time.Time) (model.Delegation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Delegation{}, err
	}
	defer tx.Rollback()

	d, err := s.scanDelegationTx(tx, id)
	if err != nil {
		return model.Delegation{}, err
	}
	if d.Status != model.DelegationPending && d.Status != model.DelegationApproved {
		return model.Delegation{}, fmt.Errorf("postgres: delegation %s cannot be revoked from status %s", id, d.Status)
	}
	if _, err := tx.Exec(`UPDATE delegations SET status = 'revoked', revoked_at = $1 WHERE id = $2`, now, id); err != nil {
		return model.Delegation{}, fmt.Errorf("postgres: revoke delegation: %w", err)
	}
	for _, token := range []string{d.DelegationToken, d.AccessToken} {
		if token == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO revoked_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING`, token); err != nil {
			return model.Delegation{}, fmt.Errorf("postgres: revoke token: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM active_tokens WHERE token = $1`, token); err != nil {
			return model.Delegation{}, fmt.Errorf("postgres: prune active token: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Delegation{}, err
	}
	d.Status = model.DelegationRevoked
	d.RevokedAt = &now
	s.logActivity("delegation_revoked", d.UserID, d.AgentID, d.ID)
	return d, nil
}

func (s *Store) AddActiveToken(token string) {
	s.db.Exec(`INSERT INTO active_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING`, token)
}

func (s *Store) MarkRevoked(token string) {
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()
	tx.Exec(`INSERT INTO revoked_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING`, token)
	tx.Exec(`DELETE FROM active_tokens WHERE token = $1`, token)
	tx.Commit()
}

func (s *Store) IsRevoked(token string) bool {
	var exists bool
	s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token = $1)`, token).Scan(&exists)
	return exists
}

func (s *Store) ActiveTokens() []string {
	rows, err := s.db.Query(`SELECT token FROM active_tokens`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var token string
		if rows.Scan(&token) == nil {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func (s *Store) PruneActiveToken(token string) {
	s.db.Exec(`DELETE FROM active_tokens WHERE token = $1`, token)
}

func (s *Store) AppendActivity(a model.Activity) {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return
	}
	s.db.Exec(
		`INSERT INTO activities (id, timestamp, action, details, username, agent_id, delegation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Timestamp, a.Action, details, a.User, a.AgentID, a.DelegationID,
	)
}

// logActivity appends an activity row outside the caller's transaction:
// audit logging is best-effort and must not roll back a state change
// just because the log insert failed.
func (s *Store) logActivity(action, user, agentID, delegationID string) {
	s.AppendActivity(model.Activity{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Action:       action,
		User:         user,
		AgentID:      agentID,
		DelegationID: delegationID,
	})
}

func (s *Store) RecentActivities(limit int) []model.Activity {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, timestamp, action, details, username, agent_id, delegation_id
		 FROM activities ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		var a model.Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Action, &details, &a.User, &a.AgentID, &a.DelegationID); err != nil {
			continue
		}
		json.Unmarshal(details, &a.Details)
		activities = append(activities, a)
	}
	return activities
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the error CreateAgent/CreateUser/CreateDelegation
// hit when a caller reuses an id.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

var _ store.Store = (*Store)(nil)
