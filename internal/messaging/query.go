package messaging

import (
	"context"
	"time"

	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/store"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type ListQuery struct {
	To    string
	Since *time.Time
	Limit int
	Type  models.MessageType
}

// ListForRecipient returns messages addressed to q.To, oldest first. With
// Since set it pages forward from that instant; without it the result is the
// most recent Limit messages.
func (r *Router) ListForRecipient(ctx context.Context, q ListQuery) ([]models.Message, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, ErrInvalidMessageType
	}
	return r.store.ListMessages(ctx, store.MessageFilter{
		To:     q.To,
		Since:  q.Since,
		Type:   q.Type,
		Limit:  clampLimit(q.Limit),
		Latest: q.Since == nil,
	})
}

func (r *Router) Get(ctx context.Context, id string) (*models.Message, error) {
	return r.store.GetMessage(ctx, id)
}

func (r *Router) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	if err := r.store.MarkMessageRead(ctx, id); err != nil {
		return nil, err
	}
	return r.store.GetMessage(ctx, id)
}

// Conversation returns the messages exchanged between a and b in either
// direction, ordered by creation time.
func (r *Router) Conversation(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	return r.store.Conversation(ctx, a, b, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
