package managementserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delegationauth/core/pkg/engine"
	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/signer"
	"github.com/delegationauth/core/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) (*gin.Engine, store.Store, *engine.Engine) {
	t.Helper()
	st := store.NewMemoryStore()
	sgn, err := signer.New([]byte("0123456789abcdef0123456789abcdef"), signer.HS256)
	require.NoError(t, err)
	eng := engine.New(st, sgn, engine.Config{
		Issuer:        "delegationauth-test",
		DelegationTTL: time.Hour,
		AccessTTL:     time.Minute,
	}, nil)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	srv := New(st, eng, logger)
	return srv.NewRouter(), st, eng
}

func seed(t *testing.T, st store.Store, eng *engine.Engine) model.Delegation {
	t.Helper()
	_, err := st.CreateAgent(model.Agent{ID: "agent-1", Name: "agent", Status: model.AgentActive, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = st.CreateUser(model.User{Username: "alice", Secret: "hashed", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	d, err := eng.CreateDelegation(context.Background(), engine.CreateRequest{AgentID: "agent-1", UserID: "alice"})
	require.NoError(t, err)
	return d
}

func TestListAgentsEmpty(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body["agents"])
}

func TestGetAgentNotFound(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/no-such-agent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDenyDelegationEndpoint(t *testing.T) {
	router, st, eng := testServer(t)
	d := seed(t, st, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/delegations/"+d.ID+"/deny", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Delegation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.DelegationDenied, got.Status)
}

func TestRevokeDelegationEndpoint(t *testing.T) {
	router, st, eng := testServer(t)
	d := seed(t, st, eng)

	_, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/delegations/"+d.ID+"/revoke", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Delegation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.DelegationRevoked, got.Status)
}

func TestUpdateAgentEndpoint(t *testing.T) {
	router, st, _ := testServer(t)
	_, err := st.CreateAgent(model.Agent{ID: "agent-1", Name: "agent", Status: model.AgentActive, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	body, err := json.Marshal(updateAgentRequest{
		Description: strPtr("updated description"),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/agents/agent-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "updated description", got.Description)
	assert.Equal(t, "agent", got.Name, "fields omitted from the request must be left unchanged")

	reloaded, err := st.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "updated description", reloaded.Description)
}

func TestUpdateAgentRejectsInvalidStatus(t *testing.T) {
	router, st, _ := testServer(t)
	_, err := st.CreateAgent(model.Agent{ID: "agent-1", Name: "agent", Status: model.AgentActive, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	invalid := model.AgentStatus("not-a-real-status")
	body, err := json.Marshal(updateAgentRequest{Status: &invalid})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/agents/agent-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAgentNotFound(t *testing.T) {
	router, _, _ := testServer(t)

	body, err := json.Marshal(updateAgentRequest{Name: strPtr("renamed")})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/agents/no-such-agent", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func strPtr(s string) *string { return &s }

func TestDeleteAgentCascadesViaManagementAPI(t *testing.T) {
	router, st, eng := testServer(t)
	d := seed(t, st, eng)
	_, err := eng.Approve(context.Background(), d.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/agents/agent-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	reloaded, err := st.GetDelegation(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DelegationRevoked, reloaded.Status)
}

func TestStatusEndpointReportsCounts(t *testing.T) {
	router, st, eng := testServer(t)
	seed(t, st, eng)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["agent_count"])
	assert.EqualValues(t, 1, body["delegation_count"])
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
