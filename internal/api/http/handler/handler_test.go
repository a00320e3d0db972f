package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	engine   *gin.Engine
	store    *store.MemoryStore
	registry *hub.Registry
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	registry := hub.NewRegistry(hub.Config{PingInterval: time.Hour, PongTimeout: time.Hour}, nil)
	t.Cleanup(registry.Stop)

	presenceService := presence.NewService(st, registry)
	router := messaging.NewRouter(st, registry, nil)

	agents := NewAgentsHandler(presenceService)
	messages := NewMessagesHandler(router)
	connections := NewConnectionsHandler(registry)
	health := NewHealthHandler("test")

	r := gin.New()
	r.GET("/health", health.Check)
	r.POST("/api/agents", agents.RegisterAgent)
	r.GET("/api/agents", agents.ListAgents)
	r.GET("/api/agents/:id", agents.GetAgent)
	r.DELETE("/api/agents/:id", agents.DeleteAgent)
	r.POST("/api/agents/:id/heartbeat", agents.Heartbeat)
	r.PUT("/api/agents/:id/status", agents.UpdateStatus)
	r.POST("/api/messages", messages.SendMessage)
	r.GET("/api/messages", messages.ListMessages)
	r.GET("/api/messages/:id", messages.GetMessage)
	r.POST("/api/messages/:id/read", messages.MarkRead)
	r.GET("/api/conversations/:a/:b", messages.Conversation)
	r.GET("/api/connections", connections.ListConnections)

	return &testEnv{engine: r, store: st, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, path, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
