package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/gin-gonic/gin"
)

// maxSendBody covers fully escaped content (six bytes per byte) plus metadata.
// The exact content cap is checked by the router.
const maxSendBody = 6*models.MaxContentBytes + 64*1024

type MessagesHandler struct {
	router *messaging.Router
}

func NewMessagesHandler(router *messaging.Router) *MessagesHandler {
	return &MessagesHandler{router: router}
}

// SendMessage answers with the single message, or with every per-recipient
// row when the message is a broadcast.
// POST /api/messages
func (h *MessagesHandler) SendMessage(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxSendBody)

	var req dto.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": messaging.ErrContentTooLarge.Error()})
			return
		}
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgs, err := h.router.Send(ctx.Request.Context(), messaging.SendRequest{
		From:       req.From,
		To:         req.To,
		Content:    req.Content,
		Type:       models.MessageType(req.Type),
		SenderType: models.SenderType(req.SenderType),
		ReplyTo:    req.ReplyTo,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.fail(ctx, err, "failed to send message")
		return
	}

	if models.ParseRecipient(req.To).Broadcast {
		ctx.JSON(http.StatusCreated, dto.MessagesResponse{Messages: msgs, Count: len(msgs)})
		return
	}
	ctx.JSON(http.StatusCreated, msgs[0])
}

// GET /api/messages?to=&since=&limit=&type=
func (h *MessagesHandler) ListMessages(ctx *gin.Context) {
	q := messaging.ListQuery{
		To:   ctx.Query("to"),
		Type: models.MessageType(ctx.Query("type")),
	}

	if raw := ctx.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		q.Since = &since
	}

	limit, ok := parseLimit(ctx)
	if !ok {
		return
	}
	q.Limit = limit

	msgs, err := h.router.ListForRecipient(ctx.Request.Context(), q)
	if err != nil {
		h.fail(ctx, err, "failed to list messages")
		return
	}
	ctx.JSON(http.StatusOK, dto.MessagesResponse{Messages: msgs, Count: len(msgs)})
}

// GET /api/messages/:id
func (h *MessagesHandler) GetMessage(ctx *gin.Context) {
	msg, err := h.router.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err, "failed to get message")
		return
	}
	ctx.JSON(http.StatusOK, msg)
}

// POST /api/messages/:id/read
func (h *MessagesHandler) MarkRead(ctx *gin.Context) {
	msg, err := h.router.MarkRead(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err, "failed to mark message read")
		return
	}
	ctx.JSON(http.StatusOK, msg)
}

// GET /api/conversations/:a/:b?limit=
func (h *MessagesHandler) Conversation(ctx *gin.Context) {
	limit, ok := parseLimit(ctx)
	if !ok {
		return
	}

	msgs, err := h.router.Conversation(ctx.Request.Context(), ctx.Param("a"), ctx.Param("b"), limit)
	if err != nil {
		h.fail(ctx, err, "failed to load conversation")
		return
	}
	ctx.JSON(http.StatusOK, dto.MessagesResponse{Messages: msgs, Count: len(msgs)})
}

func (h *MessagesHandler) fail(ctx *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, messaging.ErrContentTooLarge):
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case messaging.IsValidation(err):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrMessageNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	default:
		slog.Error(msg, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func parseLimit(ctx *gin.Context) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}
