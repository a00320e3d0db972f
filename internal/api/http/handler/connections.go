package handler

import (
	"net/http"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/gin-gonic/gin"
)

type ConnectionsHandler struct {
	registry *hub.Registry
}

func NewConnectionsHandler(registry *hub.Registry) *ConnectionsHandler {
	return &ConnectionsHandler{registry: registry}
}

// GET /api/connections
func (h *ConnectionsHandler) ListConnections(ctx *gin.Context) {
	snapshot := h.registry.Snapshot()
	ctx.JSON(http.StatusOK, dto.ConnectionsResponse{Connections: snapshot, Count: len(snapshot)})
}
