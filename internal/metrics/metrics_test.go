package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHub(reg)

	m.ConnectionOpened("agent")
	m.ConnectionOpened("agent")
	m.ConnectionOpened("daemon")
	m.ConnectionClosed("agent")
	m.MessageCreated("query")
	m.MessageRejected("content_too_large")
	m.MessageUndelivered()
	m.PongTimeout()
	m.AgentMarkedOffline()
	m.ReconcileRun(nil)
	m.ReconcileRun(errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("daemon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesCreated.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesRejected.WithLabelValues("content_too_large")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.undelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pongTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentsMarkedOffline))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRuns.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(reg, "silo_hub_connections")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDaemonStateGauge(t *testing.T) {
	m := NewDaemon(prometheus.NewRegistry())

	m.StateChanged("", "connecting")
	m.StateChanged("connecting", "connected")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("connected")))

	m.Spawn("claude-code", "spawned")
	m.WakeupSkipped("cooldown")
	m.Reconnect()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.spawns.WithLabelValues("claude-code", "spawned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wakeupsSkipped.WithLabelValues("cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
}

func TestNilReceiversAreNoops(t *testing.T) {
	var h *Hub
	var d *Daemon

	assert.NotPanics(t, func() {
		h.ConnectionOpened("agent")
		h.MessageCreated("notification")
		h.ReconcileRun(nil)
		d.StateChanged("a", "b")
		d.Spawn("x", "y")
	})
}
