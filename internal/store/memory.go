package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-hub/internal/models"
)

// MemoryStore keeps everything in process memory. It backs single-host
// development setups and unit tests.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]*models.Agent
	byName   map[string]string
	messages []*models.Message
	msgIndex map[string]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*models.Agent),
		byName:   make(map[string]string),
		msgIndex: make(map[string]*models.Message),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[agent.Name]; ok {
		return ErrAgentNameTaken
	}
	cp := copyAgent(agent)
	s.agents[agent.ID] = cp
	s.byName[agent.Name] = agent.ID
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return copyAgent(a), nil
}

func (s *MemoryStore) GetAgentByName(_ context.Context, name string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return copyAgent(s.agents[id]), nil
}

func (s *MemoryStore) ListAgents(_ context.Context, filter AgentFilter) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		result = append(result, *copyAgent(a))
	}
	sortAgents(result)
	return result, nil
}

func (s *MemoryStore) ListStaleAgents(_ context.Context, cutoff time.Time) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Agent
	for _, a := range s.agents {
		if a.Status != models.AgentStatusOffline && a.IsStale(cutoff) {
			result = append(result, *copyAgent(a))
		}
	}
	sortAgents(result)
	return result, nil
}

func (s *MemoryStore) DisplayNameExists(_ context.Context, displayName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.DisplayName == displayName {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[agent.ID]
	if !ok {
		return ErrAgentNotFound
	}
	if existing.Name != agent.Name {
		if _, taken := s.byName[agent.Name]; taken {
			return ErrAgentNameTaken
		}
		delete(s.byName, existing.Name)
		s.byName[agent.Name] = agent.ID
	}
	s.agents[agent.ID] = copyAgent(agent)
	return nil
}

func (s *MemoryStore) MarkStaleAgentOffline(_ context.Context, id string, cutoff, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return false, ErrAgentNotFound
	}
	if a.Status == models.AgentStatusOffline || !a.IsStale(cutoff) {
		return false, nil
	}
	a.Status = models.AgentStatusOffline
	a.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyMessage(msg)
	s.messages = append(s.messages, cp)
	s.msgIndex[msg.ID] = cp
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.msgIndex[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(m), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, filter MessageFilter) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Message
	for _, m := range s.messages {
		if filter.To != "" && m.To != filter.To {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.Since != nil && !m.CreatedAt.After(*filter.Since) {
			continue
		}
		result = append(result, *copyMessage(m))
		if !filter.Latest && filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	if filter.Latest && filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgIndex[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Read = true
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, a, b string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Message
	for _, m := range s.messages {
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			result = append(result, *copyMessage(m))
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func copyAgent(a *models.Agent) *models.Agent {
	cp := *a
	if a.LastHeartbeat != nil {
		hb := *a.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		cp.ReplyTo = &r
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func sortAgents(agents []models.Agent) {
	slices.SortFunc(agents, func(a, b models.Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}
