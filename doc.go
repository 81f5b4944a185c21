/*
Package core documents the delegationauth service: an OAuth2-style
two-hop delegation authorization system letting a user grant a software
agent a scoped, time-boxed delegation, exchanged for access tokens the
agent presents on the user's behalf.

# Overview

The system separates three concerns into three binaries:

 1. Authorization (cmd/authserver, internal/authserver)
    Agent/user registration, the authorize/callback/token exchange, and
    revocation/introspection. Built around the Delegation Engine
    (pkg/engine), the sole mutator of delegation state.

 2. Resource (cmd/resourceserver, internal/resourceserver)
    A protected endpoint that validates an inbound bearer token (and,
    optionally, a DPoP proof) against the authorization service before
    serving data.

 3. Management (cmd/management, internal/managementserver)
    The operator-facing surface: agent/delegation inventory, deny and
    revoke actions, system status, activity log, and Prometheus metrics.

# Core Components

  - pkg/model — the domain entities: Agent, User, Delegation, and the
    claim sets carried by delegation and access tokens.
  - pkg/engine — the Delegation Engine's state machine: create, approve,
    deny, mint access token, revoke, introspect.
  - pkg/signer — HMAC-signed compact credentials with algorithm-confusion
    defense.
  - pkg/pkce — PKCE challenge/verifier binding between authorization and
    token exchange.
  - pkg/dpop — per-request proof-of-possession verification.
  - pkg/store — the persistence contract, with a concurrent in-memory
    implementation and a transactional Postgres implementation
    (pkg/store/postgres).
  - pkg/apierr — the structured error taxonomy shared by every HTTP
    surface.

# Getting Started

Run the three services, each independently configurable via YAML or
DELEGATIONAUTH_-prefixed environment variables (internal/config):

	go run ./cmd/authserver
	go run ./cmd/resourceserver
	go run ./cmd/management

# Security

A jwt_secret of at least 32 bytes is required at startup; the process
exits immediately if it is shorter. See SPEC_FULL.md for the full
threat model and invariants this system enforces.
*/
package core
