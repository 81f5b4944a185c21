package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{Validation, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{DPoPInvalid, http.StatusUnauthorized},
		{Internal, http.StatusInternalServerError},
		{Code("unmapped"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		err := New(tt.code, "message")
		assert.Equal(t, tt.want, err.HTTPStatus())
	}
}

func TestToBodyNeverLeaksCause(t *testing.T) {
	cause := errors.New("internal detail: password=hunter2")
	err := New(Internal, "something went wrong").WithCause(cause)

	body := err.ToBody()
	assert.Equal(t, Internal, body.Error)
	assert.Equal(t, "something went wrong", body.Message)
	assert.NotContains(t, body.Message, cause.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Validation, "bad input").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorStringIncludesCauseOnlyWhenSet(t *testing.T) {
	bare := New(Validation, "bad input")
	assert.NotContains(t, bare.Error(), ": <nil>")

	withCause := New(Validation, "bad input").WithCause(errors.New("boom"))
	assert.Contains(t, withCause.Error(), "boom")
}

func TestWithRequestID(t *testing.T) {
	err := New(Conflict, "already exists").WithRequestID("req-123")
	assert.Equal(t, "req-123", err.RequestID)
}
