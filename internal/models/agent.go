package models

import (
	"time"
)

type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusOffline AgentStatus = "offline"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOnline, AgentStatusBusy, AgentStatusIdle, AgentStatusOffline:
		return true
	}
	return false
}

// Agent is the durable presence record for one agent.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	DisplayName   string      `json:"displayName"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat *time.Time  `json:"lastHeartbeat,omitempty"`
	URL           string      `json:"url,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// IsStale reports whether the agent's last heartbeat is older than cutoff.
// Agents that never heartbeated are not considered stale.
func (a *Agent) IsStale(cutoff time.Time) bool {
	return a.LastHeartbeat != nil && a.LastHeartbeat.Before(cutoff)
}
