package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/gin-gonic/gin"
)

type AgentsHandler struct {
	presence *presence.Service
}

func NewAgentsHandler(presenceService *presence.Service) *AgentsHandler {
	return &AgentsHandler{presence: presenceService}
}

// RegisterAgent creates a presence record, or revives the one with the same name.
// POST /api/agents
func (h *AgentsHandler) RegisterAgent(ctx *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, created, err := h.presence.Register(ctx.Request.Context(), presence.RegisterRequest{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		URL:         req.URL,
		Status:      models.AgentStatus(req.Status),
	})
	if err != nil {
		h.fail(ctx, err, "failed to register agent")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, agent)
}

// GET /api/agents
func (h *AgentsHandler) ListAgents(ctx *gin.Context) {
	agents, err := h.presence.List(ctx.Request.Context(), models.AgentStatus(ctx.Query("status")))
	if err != nil {
		h.fail(ctx, err, "failed to list agents")
		return
	}
	ctx.JSON(http.StatusOK, dto.AgentsResponse{Agents: agents, Count: len(agents)})
}

// GET /api/agents/:id
func (h *AgentsHandler) GetAgent(ctx *gin.Context) {
	agent, err := h.presence.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err, "failed to get agent")
		return
	}
	ctx.JSON(http.StatusOK, agent)
}

// Heartbeat bumps lastHeartbeat; an optional status is applied at the same time.
// POST /api/agents/:id/heartbeat
func (h *AgentsHandler) Heartbeat(ctx *gin.Context) {
	var req dto.HeartbeatRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var status *models.AgentStatus
	if req.Status != "" {
		s := models.AgentStatus(req.Status)
		status = &s
	}

	agent, err := h.presence.Heartbeat(ctx.Request.Context(), ctx.Param("id"), status)
	if err != nil {
		h.fail(ctx, err, "failed to record heartbeat")
		return
	}
	ctx.JSON(http.StatusOK, agent)
}

// PUT /api/agents/:id/status
func (h *AgentsHandler) UpdateStatus(ctx *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.presence.UpdateStatus(ctx.Request.Context(), ctx.Param("id"), models.AgentStatus(req.Status))
	if err != nil {
		h.fail(ctx, err, "failed to update agent status")
		return
	}
	ctx.JSON(http.StatusOK, agent)
}

// DeleteAgent marks the agent offline; the record is kept.
// DELETE /api/agents/:id
func (h *AgentsHandler) DeleteAgent(ctx *gin.Context) {
	agent, err := h.presence.Deregister(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err, "failed to deregister agent")
		return
	}
	ctx.JSON(http.StatusOK, agent)
}

func (h *AgentsHandler) fail(ctx *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrAgentNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, presence.ErrInvalidName), errors.Is(err, presence.ErrInvalidStatus):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrAgentNameTaken):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error(msg, "error", err, "agent_id", ctx.Param("id"))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
