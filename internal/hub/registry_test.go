package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    []protocol.Envelope
	closed  bool
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.sent...)
}

func (c *fakeConn) pings() int {
	n := 0
	for _, env := range c.envelopes() {
		if env.Type == protocol.TypeHeartbeat && env.HeartbeatKind() == protocol.HeartbeatPing {
			n++
		}
	}
	return n
}

// quiet keeps the liveness loop out of the way for tests that don't exercise it.
var quiet = Config{PingInterval: time.Hour, PongTimeout: time.Hour}

func TestRegistry_SendToEveryHandleUnderKey(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()

	a1, a2, b := newFakeConn("a1"), newFakeConn("a2"), newFakeConn("b")
	r.Register("agent-a", a1)
	r.Register("agent-a", a2)
	r.Register("agent-b", b)

	r.SendTo("agent-a", protocol.Error("x"))

	assert.Len(t, a1.envelopes(), 1)
	assert.Len(t, a2.envelopes(), 1)
	assert.Empty(t, b.envelopes())

	assert.True(t, r.HasLiveConnections("agent-a"))
	assert.False(t, r.HasLiveConnections("nobody"))
}

func TestRegistry_SendErrorsAreSkipped(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()

	broken, ok := newFakeConn("broken"), newFakeConn("ok")
	broken.sendErr = errors.New("pipe")
	r.Register("k", broken)
	r.Register("k", ok)

	assert.NotPanics(t, func() { r.SendTo("k", protocol.Error("x")) })
	assert.Len(t, ok.envelopes(), 1)
	assert.True(t, r.HasLiveConnections("k"), "send failure does not unregister")
}

func TestRegistry_UnregisterDropsEmptyKey(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()

	c1, c2 := newFakeConn("1"), newFakeConn("2")
	r.Register("k", c1)
	r.Register("k", c2)

	key, ok := r.Unregister(c1)
	assert.True(t, ok)
	assert.Equal(t, "k", key)
	assert.True(t, r.HasLiveConnections("k"))

	r.Unregister(c2)
	assert.False(t, r.HasLiveConnections("k"))
	assert.Empty(t, r.Snapshot())

	_, ok = r.Unregister(c2)
	assert.False(t, ok, "second unregister is a no-op")
}

func TestRegistry_ReRegisterMovesConnection(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()

	c := newFakeConn("c")
	r.Register("old", c)
	r.Register("new", c)

	assert.False(t, r.HasLiveConnections("old"))
	key, ok := r.KeyOf(c)
	require.True(t, ok)
	assert.Equal(t, "new", key)
}

func TestRegistry_BroadcastAllAndSnapshot(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()

	conns := []*fakeConn{newFakeConn("1"), newFakeConn("2"), newFakeConn("3")}
	r.Register("agent-x", conns[0])
	r.Register(protocol.ClientTypeDashboard, conns[1])
	r.Register(protocol.ClientTypeDashboard, conns[2])

	r.BroadcastAll(protocol.MustNew(protocol.TypeAgentOffline, protocol.AgentStatusPayload{AgentID: "z"}))
	for _, c := range conns {
		require.Len(t, c.envelopes(), 1)
		assert.Equal(t, protocol.TypeAgentOffline, c.envelopes()[0].Type)
	}

	assert.Equal(t, []KeySnapshot{
		{Key: "agent-x", Connections: 1},
		{Key: protocol.ClientTypeDashboard, Connections: 2},
	}, r.Snapshot())
}

func TestRegistry_MissingPongClosesAndUnregisters(t *testing.T) {
	r := NewRegistry(Config{PingInterval: 20 * time.Millisecond, PongTimeout: 30 * time.Millisecond}, nil)
	defer r.Stop()

	c := newFakeConn("silent")
	r.Register("agent-a", c)

	require.Eventually(t, func() bool { return c.isClosed() }, time.Second, 5*time.Millisecond)
	assert.False(t, r.HasLiveConnections("agent-a"))
	assert.GreaterOrEqual(t, c.pings(), 1)
}

func TestRegistry_PongKeepsConnectionAlive(t *testing.T) {
	r := NewRegistry(Config{PingInterval: 20 * time.Millisecond, PongTimeout: 40 * time.Millisecond}, nil)
	defer r.Stop()

	c := newFakeConn("chatty")
	r.Register("agent-a", c)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.HandlePong(c)
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	<-done

	assert.False(t, c.isClosed())
	assert.True(t, r.HasLiveConnections("agent-a"))
	assert.GreaterOrEqual(t, c.pings(), 3)
}

func TestRegistry_StopClosesEverything(t *testing.T) {
	r := NewRegistry(quiet, nil)

	c1, c2 := newFakeConn("1"), newFakeConn("2")
	r.Register("a", c1)
	r.Register("b", c2)
	r.Stop()

	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.Empty(t, r.Snapshot())
}
