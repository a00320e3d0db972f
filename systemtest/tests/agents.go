package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentPresence(t *testing.T, router *gin.Engine) {
	var first models.Agent

	t.Run("register", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/agents", dto.RegisterAgentRequest{Name: "claude-code", URL: "http://10.0.0.4:4000"})
		require.Equal(t, http.StatusCreated, rr.Code)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
		assert.Equal(t, "Claude Code", first.DisplayName)
		assert.Equal(t, models.AgentStatusOnline, first.Status)
		assert.NotNil(t, first.LastHeartbeat)
	})

	t.Run("display names stay unique", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/agents", dto.RegisterAgentRequest{Name: "claude_code"})
		require.Equal(t, http.StatusCreated, rr.Code)

		var second models.Agent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
		assert.NotEqual(t, first.DisplayName, second.DisplayName)
	})

	t.Run("deregister keeps the record", func(t *testing.T) {
		rr := doJSON(router, "DELETE", "/api/agents/"+first.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(router, "GET", "/api/agents/"+first.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var agent models.Agent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agent))
		assert.Equal(t, models.AgentStatusOffline, agent.Status)
	})

	t.Run("re-register revives", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/agents", dto.RegisterAgentRequest{Name: "claude-code"})
		require.Equal(t, http.StatusOK, rr.Code)

		var agent models.Agent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agent))
		assert.Equal(t, first.ID, agent.ID)
		assert.Equal(t, models.AgentStatusOnline, agent.Status)
	})

	t.Run("status filter", func(t *testing.T) {
		rr := doJSON(router, "PUT", "/api/agents/"+first.ID+"/status", dto.UpdateStatusRequest{Status: "busy"})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(router, "GET", "/api/agents?status=busy", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.AgentsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, first.ID, resp.Agents[0].ID)
	})

	t.Run("unknown agent", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/agents/00000000-0000-0000-0000-000000000000/heartbeat", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestStaleReconciliation(t *testing.T, st store.Store, broadcaster presence.Broadcaster) {
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-5 * time.Minute)
	stale := &models.Agent{
		ID:            "11111111-1111-1111-1111-111111111111",
		Name:          "stale-agent",
		DisplayName:   "Stale Agent",
		Status:        models.AgentStatusIdle,
		LastHeartbeat: &old,
		CreatedAt:     old,
		UpdatedAt:     old,
	}
	require.NoError(t, st.CreateAgent(ctx, stale))

	fresh := &models.Agent{
		ID:            "22222222-2222-2222-2222-222222222222",
		Name:          "fresh-agent",
		DisplayName:   "Fresh Agent",
		Status:        models.AgentStatusOnline,
		LastHeartbeat: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateAgent(ctx, fresh))

	reconciler := presence.NewReconciler(st, broadcaster, nil, time.Minute, presence.DefaultStaleAfter)
	n, err := reconciler.Reconcile(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err := st.GetAgent(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOffline, got.Status)

	got, err = st.GetAgent(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, got.Status)

	changed, err := st.MarkStaleAgentOffline(ctx, stale.ID, now, now)
	require.NoError(t, err)
	assert.False(t, changed, "already offline")
}
