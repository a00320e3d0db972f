// Package hub tracks live websocket connections by registry key and keeps
// them honest with an application-level ping/pong.
package hub

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-hub/internal/metrics"
	"github.com/EternisAI/silo-hub/internal/protocol"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Conn is one live client connection. Send must not block.
type Conn interface {
	ID() string
	Send(env protocol.Envelope) error
	Close() error
}

type Config struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
}

type handle struct {
	conn Conn
	key  string
	stop chan struct{}

	mu        sync.Mutex
	pongTimer *time.Timer
	stopped   bool
}

type Registry struct {
	cfg     Config
	metrics *metrics.Hub

	mu      sync.RWMutex
	keys    map[string]map[string]*handle
	handles map[string]*handle
}

func NewRegistry(cfg Config, m *metrics.Hub) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	return &Registry{
		cfg:     cfg,
		metrics: m,
		keys:    make(map[string]map[string]*handle),
		handles: make(map[string]*handle),
	}
}

// Register files conn under key and starts pinging it. Registering a
// connection that is already known moves it to the new key.
func (r *Registry) Register(key string, conn Conn) {
	r.Unregister(conn)

	h := &handle{
		conn: conn,
		key:  key,
		stop: make(chan struct{}),
	}

	r.mu.Lock()
	set, ok := r.keys[key]
	if !ok {
		set = make(map[string]*handle)
		r.keys[key] = set
	}
	set[conn.ID()] = h
	r.handles[conn.ID()] = h
	count := len(set)
	r.mu.Unlock()

	r.metrics.ConnectionOpened(roleOf(key))
	slog.Info("Connection registered", "key", key, "conn_id", conn.ID(), "connections", count)

	go r.keepAlive(h)
}

// Unregister removes conn from whichever key holds it and stops its timers.
// It returns the key the connection was registered under.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	h, ok := r.handles[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.handles, conn.ID())
	if set := r.keys[h.key]; set != nil {
		delete(set, conn.ID())
		if len(set) == 0 {
			delete(r.keys, h.key)
		}
	}
	r.mu.Unlock()

	h.halt()
	r.metrics.ConnectionClosed(roleOf(h.key))
	slog.Info("Connection unregistered", "key", h.key, "conn_id", conn.ID())
	return h.key, true
}

// SendTo delivers env to every connection under key. Failed sends are
// skipped; a dead connection is cleaned up when its transport closes.
func (r *Registry) SendTo(key string, env protocol.Envelope) {
	for _, h := range r.handlesFor(key) {
		if err := h.conn.Send(env); err != nil {
			slog.Debug("Send to connection failed", "key", key, "conn_id", h.conn.ID(), "error", err)
		}
	}
}

func (r *Registry) HasLiveConnections(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys[key]) > 0
}

// BroadcastAll delivers env to every registered connection.
func (r *Registry) BroadcastAll(env protocol.Envelope) {
	r.mu.RLock()
	all := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		all = append(all, h)
	}
	r.mu.RUnlock()

	for _, h := range all {
		if err := h.conn.Send(env); err != nil {
			slog.Debug("Broadcast to connection failed", "conn_id", h.conn.ID(), "error", err)
		}
	}
}

// HandlePong cancels the pending pong timeout for conn.
func (r *Registry) HandlePong(conn Conn) {
	r.mu.RLock()
	h, ok := r.handles[conn.ID()]
	r.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pongTimer != nil {
		h.pongTimer.Stop()
		h.pongTimer = nil
	}
}

// KeyOf returns the key conn is registered under.
func (r *Registry) KeyOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[conn.ID()]
	if !ok {
		return "", false
	}
	return h.key, true
}

type KeySnapshot struct {
	Key         string `json:"key"`
	Connections int    `json:"connections"`
}

// Snapshot lists every key with its live connection count, sorted by key.
func (r *Registry) Snapshot() []KeySnapshot {
	r.mu.RLock()
	out := make([]KeySnapshot, 0, len(r.keys))
	for key, set := range r.keys {
		out = append(out, KeySnapshot{Key: key, Connections: len(set)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stop closes every connection and cancels all liveness timers.
func (r *Registry) Stop() {
	r.mu.Lock()
	all := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		all = append(all, h)
	}
	r.keys = make(map[string]map[string]*handle)
	r.handles = make(map[string]*handle)
	r.mu.Unlock()

	for _, h := range all {
		h.halt()
		r.metrics.ConnectionClosed(roleOf(h.key))
		if err := h.conn.Close(); err != nil {
			slog.Debug("Failed to close connection", "conn_id", h.conn.ID(), "error", err)
		}
	}
	slog.Info("Connection registry stopped", "closed", len(all))
}

func (r *Registry) handlesFor(key string) []*handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.keys[key]
	out := make([]*handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (r *Registry) keepAlive(h *handle) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			r.ping(h)
		}
	}
}

func (r *Registry) ping(h *handle) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	if h.pongTimer == nil {
		h.pongTimer = time.AfterFunc(r.cfg.PongTimeout, func() { r.expire(h) })
	}
	h.mu.Unlock()

	if err := h.conn.Send(protocol.Ping()); err != nil {
		slog.Debug("Ping failed", "key", h.key, "conn_id", h.conn.ID(), "error", err)
	}
}

func (r *Registry) expire(h *handle) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.pongTimer = nil
	h.mu.Unlock()

	r.metrics.PongTimeout()
	slog.Warn("No pong received, closing connection", "key", h.key, "conn_id", h.conn.ID())
	if err := h.conn.Close(); err != nil {
		slog.Debug("Failed to close connection", "conn_id", h.conn.ID(), "error", err)
	}
	r.Unregister(h.conn)
}

func (h *handle) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stop)
	if h.pongTimer != nil {
		h.pongTimer.Stop()
		h.pongTimer = nil
	}
}

func roleOf(key string) string {
	switch key {
	case protocol.ClientTypeDashboard, protocol.ClientTypeDaemon:
		return key
	default:
		return "agent"
	}
}
