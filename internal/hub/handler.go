package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
	// JSON may escape each content byte into six, plus envelope framing.
	// The exact content cap is enforced by the router.
	defaultMaxFrameBytes = 6*models.MaxContentBytes + 64*1024
)

type AgentLookup interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
}

type MessageSender interface {
	Send(ctx context.Context, req messaging.SendRequest) ([]models.Message, error)
}

type HandlerConfig struct {
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
}

// Handler upgrades HTTP requests to websocket connections and runs the
// register handshake and envelope dispatch for each of them.
type Handler struct {
	registry *Registry
	agents   AgentLookup
	messages MessageSender
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, agents AgentLookup, messages MessageSender, cfg HandlerConfig) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Handler{
		registry: registry,
		agents:   agents,
		messages: messages,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// LAN-only hub; dashboards are served from arbitrary origins.
				return true
			},
		},
	}
}

// ServeHTTP blocks for the lifetime of the connection and acts as its reader.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(h.cfg.MaxFrameBytes)

	conn := newWSConn(ws, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	go conn.writePump()

	slog.Debug("Websocket connected", "conn_id", conn.ID(), "remote_addr", r.RemoteAddr)

	defer func() {
		h.registry.Unregister(conn)
		conn.Close()
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Websocket read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			h.reply(conn, protocol.Error(err.Error()))
			continue
		}
		h.Dispatch(ctx, conn, env)
	}
}

// Dispatch handles one inbound envelope from conn. Until conn registers,
// only register envelopes are accepted.
func (h *Handler) Dispatch(ctx context.Context, conn Conn, env protocol.Envelope) {
	if env.Type == protocol.TypeRegister {
		h.handleRegister(ctx, conn, env)
		return
	}

	key, registered := h.registry.KeyOf(conn)
	if !registered {
		h.reply(conn, protocol.Error("connection must register first"))
		return
	}

	switch env.Type {
	case protocol.TypeHeartbeat:
		if env.HeartbeatKind() == protocol.HeartbeatPong {
			h.registry.HandlePong(conn)
			return
		}
		h.reply(conn, protocol.Pong())
	case protocol.TypeMessage:
		h.handleMessage(ctx, conn, key, env)
	default:
		h.reply(conn, protocol.Error(fmt.Sprintf("unsupported envelope type: %s", env.Type)))
	}
}

func (h *Handler) handleRegister(ctx context.Context, conn Conn, env protocol.Envelope) {
	var payload protocol.RegisterPayload
	if err := env.Decode(&payload); err != nil {
		h.reply(conn, protocol.Error(err.Error()))
		return
	}

	key, err := payload.Key()
	if err != nil {
		h.reply(conn, protocol.Error(err.Error()))
		return
	}

	if payload.AgentID != "" && h.agents != nil {
		if _, err := h.agents.Get(ctx, payload.AgentID); err != nil {
			if errors.Is(err, store.ErrAgentNotFound) {
				h.reply(conn, protocol.Error(fmt.Sprintf("unknown agent: %s", payload.AgentID)))
				return
			}
			slog.Error("Failed to look up agent for registration", "agent_id", payload.AgentID, "error", err)
			h.reply(conn, protocol.Error("registration failed"))
			return
		}
	}

	h.registry.Register(key, conn)
	h.reply(conn, protocol.MustNew(protocol.TypeRegister, protocol.RegisteredPayload{
		Status: "registered",
		Key:    key,
	}))
}

func (h *Handler) handleMessage(ctx context.Context, conn Conn, key string, env protocol.Envelope) {
	if key == protocol.ClientTypeDashboard || key == protocol.ClientTypeDaemon {
		h.reply(conn, protocol.Error("only agent connections can send messages"))
		return
	}
	if h.messages == nil {
		h.reply(conn, protocol.Error("messaging unavailable"))
		return
	}

	var payload protocol.SendPayload
	if err := env.Decode(&payload); err != nil {
		h.reply(conn, protocol.Error(err.Error()))
		return
	}

	_, err := h.messages.Send(ctx, messaging.SendRequest{
		From:       key,
		To:         payload.To,
		Content:    payload.Content,
		Type:       models.MessageType(payload.Type),
		SenderType: models.SenderType(payload.SenderType),
		ReplyTo:    payload.ReplyTo,
		Metadata:   payload.Metadata,
	})
	if err != nil {
		if !messaging.IsValidation(err) {
			slog.Error("Failed to route message", "from", key, "error", err)
			err = errors.New("failed to send message")
		}
		h.reply(conn, protocol.Error(err.Error()))
	}
}

func (h *Handler) reply(conn Conn, env protocol.Envelope) {
	if err := conn.Send(env); err != nil {
		slog.Debug("Failed to reply on connection", "conn_id", conn.ID(), "error", err)
	}
}
