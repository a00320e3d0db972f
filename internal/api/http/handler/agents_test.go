package handler

import (
	"net/http"
	"testing"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestRegisterAgent(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/agents", dto.RegisterAgentRequest{Name: "claude-code", URL: "http://10.0.0.3:4000"})
	require.Equal(t, http.StatusCreated, w.Code)
	agent := decode[models.Agent](t, w)
	assert.Equal(t, "claude-code", agent.Name)
	assert.Equal(t, "Claude Code", agent.DisplayName)
	assert.Equal(t, models.AgentStatusOnline, agent.Status)

	w = env.do(t, http.MethodPost, "/api/agents", dto.RegisterAgentRequest{Name: "claude-code"})
	require.Equal(t, http.StatusOK, w.Code, "re-registering revives the same record")
	assert.Equal(t, agent.ID, decode[models.Agent](t, w).ID)
}

func TestRegisterAgentValidation(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/agents", map[string]string{"url": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/agents", dto.RegisterAgentRequest{Name: "a", Status: "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentLifecycle(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/agents", dto.RegisterAgentRequest{Name: "codex"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[models.Agent](t, w).ID

	w = env.do(t, http.MethodGet, "/api/agents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, "/api/agents/"+id+"/status", dto.UpdateStatusRequest{Status: "busy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AgentStatusBusy, decode[models.Agent](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/agents?status=busy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.AgentsResponse](t, w).Count)

	w = env.do(t, http.MethodDelete, "/api/agents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AgentStatusOffline, decode[models.Agent](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/agents/"+id+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AgentStatusOnline, decode[models.Agent](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/agents/"+id+"/heartbeat", dto.HeartbeatRequest{Status: "idle"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AgentStatusIdle, decode[models.Agent](t, w).Status)
}

func TestAgentNotFound(t *testing.T) {
	env := setupRouter(t)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/agents/nope", nil},
		{http.MethodDelete, "/api/agents/nope", nil},
		{http.MethodPost, "/api/agents/nope/heartbeat", nil},
		{http.MethodPut, "/api/agents/nope/status", dto.UpdateStatusRequest{Status: "idle"}},
	} {
		w := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}
