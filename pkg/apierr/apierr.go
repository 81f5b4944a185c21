// Package apierr defines the structured error taxonomy surfaced across the
// authorization core, mirroring the error kinds enumerated in the service's
// HTTP error contract.
package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Code identifies a specific error kind.
type Code string

const (
	Validation            Code = "validation"
	Conflict              Code = "conflict"
	NotFound              Code = "not_found"
	AuthUnknownUser       Code = "auth_unknown_user"
	AuthUnknownAgent      Code = "auth_unknown_agent"
	TokenExpired          Code = "token_expired"
	TokenInvalid          Code = "token_invalid"
	TokenRevoked          Code = "token_revoked"
	PKCERequired          Code = "pkce_required"
	PKCEMismatch          Code = "pkce_mismatch"
	DelegationNotApproved Code = "delegation_not_approved"
	DelegationRevoked     Code = "delegation_revoked"
	DelegationExpired     Code = "delegation_expired"
	DPoPInvalid           Code = "dpop_invalid"
	DPoPReplay            Code = "dpop_replay"
	DPoPStale             Code = "dpop_stale"
	Unauthorized          Code = "unauthorized"
	ServiceUnavailable    Code = "service_unavailable"
	Internal              Code = "internal"
)

// httpStatus maps each code to the HTTP status it must be surfaced with.
var httpStatus = map[Code]int{
	Validation:            http.StatusBadRequest,
	Conflict:              http.StatusConflict,
	NotFound:              http.StatusNotFound,
	AuthUnknownUser:       http.StatusForbidden,
	AuthUnknownAgent:      http.StatusForbidden,
	TokenExpired:          http.StatusForbidden,
	TokenInvalid:          http.StatusForbidden,
	TokenRevoked:          http.StatusForbidden,
	PKCERequired:          http.StatusForbidden,
	PKCEMismatch:          http.StatusForbidden,
	DelegationNotApproved: http.StatusForbidden,
	DelegationRevoked:     http.StatusForbidden,
	DelegationExpired:     http.StatusForbidden,
	DPoPInvalid:           http.StatusUnauthorized,
	DPoPReplay:            http.StatusUnauthorized,
	DPoPStale:             http.StatusUnauthorized,
	Unauthorized:          http.StatusUnauthorized,
	ServiceUnavailable:    http.StatusServiceUnavailable,
	Internal:              http.StatusInternalServerError,
}

// Error is a structured, request-correlatable error.
type Error struct {
	Code      Code
	Message   string
	RequestID string
	Cause     error
	Timestamp time.Time
}

// New creates a structured error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now().UTC()}
}

// WithCause attaches the underlying error, kept for logging only — never
// rendered to the client.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRequestID attaches a request-correlation id.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status this error should be surfaced with.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Body is the stable, client-facing JSON shape: {error, message, timestamp}.
type Body struct {
	Error     Code      `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ToBody renders the client-facing response body for e, never leaking Cause.
func (e *Error) ToBody() Body {
	return Body{Error: e.Code, Message: e.Message, Timestamp: e.Timestamp}
}
