// Package messaging persists messages and pushes them to live connections,
// signalling the daemon role when a recipient has no connection.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/silo-hub/internal/metrics"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/google/uuid"
)

var (
	ErrContentTooLarge    = errors.New("message content exceeds 1 MiB")
	ErrInvalidReply       = errors.New("replyTo does not reference an existing message")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidSenderType  = errors.New("invalid sender type")
	ErrMissingSender      = errors.New("from is required")
	ErrMissingRecipient   = errors.New("to is required")
)

// IsValidation reports whether err is a caller error rather than a failure
// of the hub itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrContentTooLarge) ||
		errors.Is(err, ErrInvalidReply) ||
		errors.Is(err, ErrInvalidMessageType) ||
		errors.Is(err, ErrInvalidSenderType) ||
		errors.Is(err, ErrMissingSender) ||
		errors.Is(err, ErrMissingRecipient)
}

// Pusher is the live-delivery side of the connection registry.
type Pusher interface {
	SendTo(key string, env protocol.Envelope)
	HasLiveConnections(key string) bool
}

type SendRequest struct {
	From       string
	To         string
	Content    string
	Type       models.MessageType
	SenderType models.SenderType
	ReplyTo    *string
	Metadata   map[string]any
}

type Router struct {
	store   store.Store
	pusher  Pusher
	metrics *metrics.Hub
	now     func() time.Time
}

func NewRouter(st store.Store, pusher Pusher, m *metrics.Hub) *Router {
	return &Router{
		store:   st,
		pusher:  pusher,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send validates, persists and pushes a message. A broadcast yields one row
// per online agent other than the sender; a direct send yields exactly one.
func (r *Router) Send(ctx context.Context, req SendRequest) ([]models.Message, error) {
	if err := r.normalize(ctx, &req); err != nil {
		r.metrics.MessageRejected(rejectReason(err))
		return nil, err
	}

	recipient := models.ParseRecipient(req.To)
	if recipient.Broadcast {
		return r.broadcast(ctx, req)
	}

	name := r.recipientName(ctx, recipient.AgentID)
	msg, err := r.persist(ctx, req, recipient.AgentID)
	if err != nil {
		return nil, err
	}
	r.deliver(msg, name)
	return []models.Message{*msg}, nil
}

func (r *Router) normalize(ctx context.Context, req *SendRequest) error {
	if len(req.Content) > models.MaxContentBytes {
		return ErrContentTooLarge
	}

	if req.ReplyTo != nil && *req.ReplyTo == "" {
		req.ReplyTo = nil
	}
	if req.ReplyTo != nil {
		if _, err := r.store.GetMessage(ctx, *req.ReplyTo); err != nil {
			if errors.Is(err, store.ErrMessageNotFound) {
				return ErrInvalidReply
			}
			return fmt.Errorf("failed to resolve replyTo: %w", err)
		}
	}

	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.From == "" && req.SenderType == models.SenderTypePerson {
		req.From = models.PersonSender
	}
	if req.From == "" {
		return ErrMissingSender
	}
	if req.To == "" {
		return ErrMissingRecipient
	}

	if req.Type == "" {
		req.Type = models.MessageTypeNotification
		if req.To == models.BroadcastRecipient {
			req.Type = models.MessageTypeBroadcast
		}
	}
	if !req.Type.Valid() {
		return ErrInvalidMessageType
	}

	if req.SenderType == "" {
		req.SenderType = models.SenderTypeAgent
	}
	if !req.SenderType.Valid() {
		return ErrInvalidSenderType
	}
	return nil
}

func (r *Router) broadcast(ctx context.Context, req SendRequest) ([]models.Message, error) {
	online, err := r.store.ListAgents(ctx, store.AgentFilter{Status: models.AgentStatusOnline})
	if err != nil {
		return nil, fmt.Errorf("failed to list online agents: %w", err)
	}

	created := make([]models.Message, 0, len(online))
	for _, agent := range online {
		if agent.ID == req.From {
			continue
		}
		msg, err := r.persist(ctx, req, agent.ID)
		if err != nil {
			return created, err
		}
		r.deliver(msg, displayNameOf(&agent))
		created = append(created, *msg)
	}

	slog.Debug("Broadcast fanned out", "from", req.From, "recipients", len(created))
	return created, nil
}

func (r *Router) persist(ctx context.Context, req SendRequest, to string) (*models.Message, error) {
	msg := &models.Message{
		ID:         uuid.NewString(),
		From:       req.From,
		To:         to,
		SenderType: req.SenderType,
		Content:    req.Content,
		Type:       req.Type,
		ReplyTo:    req.ReplyTo,
		Metadata:   req.Metadata,
		CreatedAt:  r.now(),
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	r.metrics.MessageCreated(string(msg.Type))
	return msg, nil
}

// deliver pushes one stored row to its recipient and the dashboard, and tells
// the daemon when the recipient has nobody listening.
func (r *Router) deliver(msg *models.Message, recipientName string) {
	if r.pusher == nil {
		return
	}

	env := protocol.MustNew(protocol.TypeMessage, msg)
	r.pusher.SendTo(msg.To, env)
	r.pusher.SendTo(protocol.ClientTypeDashboard, env)

	if r.pusher.HasLiveConnections(msg.To) {
		return
	}

	r.metrics.MessageUndelivered()
	slog.Info("Recipient has no live connection, notifying daemon",
		"message_id", msg.ID,
		"recipient", msg.To,
		"recipient_name", recipientName)
	r.pusher.SendTo(protocol.ClientTypeDaemon, protocol.MustNew(protocol.TypeMessageUndelivered, protocol.UndeliveredPayload{
		RecipientAgentID:   msg.To,
		RecipientAgentName: recipientName,
		Message:            *msg,
	}))
}

func (r *Router) recipientName(ctx context.Context, id string) string {
	agent, err := r.store.GetAgent(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrAgentNotFound) {
			slog.Warn("Failed to resolve recipient name", "recipient", id, "error", err)
		}
		return id
	}
	return displayNameOf(agent)
}

func displayNameOf(agent *models.Agent) string {
	if agent.DisplayName != "" {
		return agent.DisplayName
	}
	if agent.Name != "" {
		return agent.Name
	}
	return agent.ID
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrContentTooLarge):
		return "too_large"
	case errors.Is(err, ErrInvalidReply):
		return "invalid_reply"
	case errors.Is(err, ErrInvalidMessageType):
		return "invalid_type"
	case errors.Is(err, ErrInvalidSenderType):
		return "invalid_sender_type"
	case errors.Is(err, ErrMissingSender), errors.Is(err, ErrMissingRecipient):
		return "missing_field"
	default:
		return "internal"
	}
}
