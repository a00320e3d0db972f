package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/google/uuid"
)

var (
	ErrInvalidName   = errors.New("agent name is required")
	ErrInvalidStatus = errors.New("invalid agent status")
)

// maxDisplayNameSuffix bounds the collision search for generated display names.
const maxDisplayNameSuffix = 1000

// Broadcaster fans an envelope out to every live connection.
type Broadcaster interface {
	BroadcastAll(env protocol.Envelope)
}

type Service struct {
	store       store.AgentStore
	broadcaster Broadcaster
	now         func() time.Time
}

func NewService(agentStore store.AgentStore, broadcaster Broadcaster) *Service {
	return &Service{
		store:       agentStore,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type RegisterRequest struct {
	Name        string
	DisplayName string
	URL         string
	Status      models.AgentStatus
}

// Register creates a presence record or revives the existing one with the
// same name. Either way the agent ends up with a fresh heartbeat.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Agent, bool, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, false, ErrInvalidName
	}
	status := req.Status
	if status == "" {
		status = models.AgentStatusOnline
	}
	if !status.Valid() || status == models.AgentStatusOffline {
		return nil, false, ErrInvalidStatus
	}

	now := s.now()
	existing, err := s.store.GetAgentByName(ctx, name)
	switch {
	case err == nil:
		existing.Status = status
		existing.LastHeartbeat = &now
		existing.UpdatedAt = now
		if req.URL != "" {
			existing.URL = req.URL
		}
		if err := s.store.UpdateAgent(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to revive agent: %w", err)
		}
		slog.Info("Agent revived", "agent_id", existing.ID, "name", existing.Name)
		s.announce(protocol.TypeAgentOnline, existing)
		return existing, false, nil
	case !errors.Is(err, store.ErrAgentNotFound):
		return nil, false, fmt.Errorf("failed to look up agent: %w", err)
	}

	displayName, err := s.uniqueDisplayName(ctx, req.DisplayName, name)
	if err != nil {
		return nil, false, err
	}

	agent := &models.Agent{
		ID:            uuid.NewString(),
		Name:          name,
		DisplayName:   displayName,
		Status:        status,
		LastHeartbeat: &now,
		URL:           req.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, false, fmt.Errorf("failed to create agent: %w", err)
	}

	slog.Info("Agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"display_name", agent.DisplayName)
	s.announce(protocol.TypeAgentOnline, agent)
	return agent, true, nil
}

// Heartbeat bumps lastHeartbeat and optionally the status. It is the only
// way an agent marked offline by the reconciler comes back.
func (s *Service) Heartbeat(ctx context.Context, id string, status *models.AgentStatus) (*models.Agent, error) {
	if status != nil && !status.Valid() {
		return nil, ErrInvalidStatus
	}

	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	wasOffline := agent.Status == models.AgentStatusOffline
	now := s.now()
	agent.LastHeartbeat = &now
	agent.UpdatedAt = now
	switch {
	case status != nil:
		agent.Status = *status
	case wasOffline:
		agent.Status = models.AgentStatusOnline
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	if wasOffline && agent.Status != models.AgentStatusOffline {
		slog.Info("Agent back online", "agent_id", agent.ID)
		s.announce(protocol.TypeAgentOnline, agent)
	}
	return agent, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status models.AgentStatus) (*models.Agent, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Status == status {
		return agent, nil
	}

	previous := agent.Status
	agent.Status = status
	agent.UpdatedAt = s.now()
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to update agent status: %w", err)
	}

	switch {
	case status == models.AgentStatusOffline:
		s.announce(protocol.TypeAgentOffline, agent)
	case previous == models.AgentStatusOffline:
		s.announce(protocol.TypeAgentOnline, agent)
	}
	return agent, nil
}

// Deregister is a soft delete: the record stays, the status becomes offline.
func (s *Service) Deregister(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.UpdateStatus(ctx, id, models.AgentStatusOffline)
	if err != nil {
		return nil, err
	}
	slog.Info("Agent deregistered", "agent_id", id)
	return agent, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

func (s *Service) List(ctx context.Context, status models.AgentStatus) ([]models.Agent, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.store.ListAgents(ctx, store.AgentFilter{Status: status})
}

func (s *Service) uniqueDisplayName(ctx context.Context, requested, name string) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = DisplayNameFor(name)
	}

	for n := 1; n <= maxDisplayNameSuffix; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s %d", base, n)
		}
		taken, err := s.store.DisplayNameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check display name: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free display name for %q", base)
}

func (s *Service) announce(t protocol.Type, agent *models.Agent) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastAll(protocol.MustNew(t, statusPayload(agent)))
}

func statusPayload(agent *models.Agent) protocol.AgentStatusPayload {
	return protocol.AgentStatusPayload{
		AgentID:     agent.ID,
		Name:        agent.Name,
		DisplayName: agent.DisplayName,
		Status:      agent.Status,
	}
}

// DisplayNameFor turns an agent name such as "claude-code" into "Claude Code".
func DisplayNameFor(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return name
	}
	return strings.Join(words, " ")
}
