// Package protocol defines the JSON envelope exchanged over hub websocket
// connections by agents, dashboards and daemons.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EternisAI/silo-hub/internal/models"
)

type Type string

const (
	TypeRegister           Type = "register"
	TypeMessage            Type = "message"
	TypeHeartbeat          Type = "heartbeat"
	TypeAgentOnline        Type = "agent_online"
	TypeAgentOffline       Type = "agent_offline"
	TypeError              Type = "error"
	TypeMessageUndelivered Type = "message_undelivered"
)

// Reserved registry keys for non-agent clients.
const (
	ClientTypeDashboard = "dashboard"
	ClientTypeDaemon    = "daemon"
)

// Heartbeat kinds carried in a heartbeat envelope.
const (
	HeartbeatPing = "ping"
	HeartbeatPong = "pong"
)

type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type RegisterPayload struct {
	AgentID    string `json:"agentId,omitempty"`
	ClientType string `json:"clientType,omitempty"`
}

// Key returns the registry key this payload asks to be registered under.
func (p RegisterPayload) Key() (string, error) {
	switch {
	case p.AgentID != "":
		return p.AgentID, nil
	case p.ClientType == ClientTypeDashboard, p.ClientType == ClientTypeDaemon:
		return p.ClientType, nil
	case p.ClientType != "":
		return "", fmt.Errorf("unknown client type: %s", p.ClientType)
	default:
		return "", fmt.Errorf("register requires agentId or clientType")
	}
}

type RegisteredPayload struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

type HeartbeatPayload struct {
	Kind string `json:"kind"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type AgentStatusPayload struct {
	AgentID     string             `json:"agentId"`
	Name        string             `json:"name"`
	DisplayName string             `json:"displayName"`
	Status      models.AgentStatus `json:"status"`
}

type UndeliveredPayload struct {
	RecipientAgentID   string         `json:"recipientAgentId"`
	RecipientAgentName string         `json:"recipientAgentName"`
	Message            models.Message `json:"message"`
}

// SendPayload is what a registered agent connection sends to route a
// message through the hub. The sender is taken from the registration.
type SendPayload struct {
	To         string         `json:"to"`
	Content    string         `json:"content"`
	Type       string         `json:"type,omitempty"`
	SenderType string         `json:"senderType,omitempty"`
	ReplyTo    *string        `json:"replyTo,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New builds an envelope stamped with the current time.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(t Type, payload any) Envelope {
	env, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func Ping() Envelope {
	return MustNew(TypeHeartbeat, HeartbeatPayload{Kind: HeartbeatPing})
}

func Pong() Envelope {
	return MustNew(TypeHeartbeat, HeartbeatPayload{Kind: HeartbeatPong})
}

func Error(msg string) Envelope {
	return MustNew(TypeError, ErrorPayload{Error: msg})
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// HeartbeatKind returns the kind of a heartbeat envelope. An empty payload is
// treated as a ping.
func (e Envelope) HeartbeatKind() string {
	var hb HeartbeatPayload
	if len(e.Payload) == 0 || json.Unmarshal(e.Payload, &hb) != nil || hb.Kind == "" {
		return HeartbeatPing
	}
	return hb.Kind
}

func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("invalid envelope: missing type")
	}
	return env, nil
}
