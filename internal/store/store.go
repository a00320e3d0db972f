// Package store is the persistence collaborator for presence records and
// messages. Operations are single-row transactional; callers never rely on
// multi-row transactions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/EternisAI/silo-hub/internal/models"
)

var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentNameTaken  = errors.New("agent name already registered")
	ErrMessageNotFound = errors.New("message not found")
)

type AgentFilter struct {
	Status models.AgentStatus
}

type MessageFilter struct {
	To    string
	Since *time.Time
	Type  models.MessageType
	Limit int
	// Latest keeps the newest Limit rows instead of the oldest. Rows are
	// still returned oldest first.
	Latest bool
}

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]models.Agent, error)
	// ListStaleAgents returns agents whose last heartbeat is older than cutoff
	// and whose status is not offline.
	ListStaleAgents(ctx context.Context, cutoff time.Time) ([]models.Agent, error)
	DisplayNameExists(ctx context.Context, displayName string) (bool, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	// MarkStaleAgentOffline flips one agent to offline only if it is still
	// stale relative to cutoff and not already offline. It reports whether
	// the row changed, so a heartbeat that lands after ListStaleAgents wins.
	MarkStaleAgentOffline(ctx context.Context, id string, cutoff, now time.Time) (bool, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)
	MarkMessageRead(ctx context.Context, id string) error
	// Conversation returns messages exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string, limit int) ([]models.Message, error)
}

type Store interface {
	AgentStore
	MessageStore
	Close()
}
