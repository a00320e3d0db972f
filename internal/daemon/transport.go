package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Transport is one established connection to the hub.
type Transport interface {
	Read() ([]byte, error)
	Write(env protocol.Envelope) error
	// Close tears the connection down; normal sends a normal-closure frame first.
	Close(normal bool) error
}

type Dialer interface {
	Dial(ctx context.Context, wsURL string) (Transport, error)
}

// WSDialer dials the hub websocket endpoint.
type WSDialer struct {
	TLSConfig *tls.Config
}

func (d WSDialer) Dial(ctx context.Context, wsURL string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  d.TLSConfig,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Write(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) Close(normal bool) error {
	if normal {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "daemon stopping")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return t.conn.Close()
}

// WebsocketURL derives the hub's ws(s)://host/ws endpoint from its http(s) URL.
func WebsocketURL(hubURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(hubURL))
	if err != nil {
		return "", fmt.Errorf("invalid hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid hub url %q: unsupported scheme", hubURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid hub url %q: missing host", hubURL)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/ws") {
		path += "/ws"
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
