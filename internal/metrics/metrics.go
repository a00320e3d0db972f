// Package metrics holds the Prometheus collectors for the hub and the daemon.
// Every method is safe on a nil receiver so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "silo"

type Hub struct {
	connections         *prometheus.GaugeVec
	pongTimeouts        prometheus.Counter
	messagesCreated     *prometheus.CounterVec
	messagesRejected    *prometheus.CounterVec
	undelivered         prometheus.Counter
	agentsMarkedOffline prometheus.Counter
	reconcileRuns       *prometheus.CounterVec
}

// NewHub registers the hub collectors on reg.
func NewHub(reg prometheus.Registerer) *Hub {
	f := promauto.With(reg)
	return &Hub{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Live websocket connections by client role",
		}, []string{"role"}),
		pongTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "pong_timeouts_total",
			Help:      "Connections closed because no pong arrived in time",
		}),
		messagesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_created_total",
			Help:      "Messages persisted by the router",
		}, []string{"type"}),
		messagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_rejected_total",
			Help:      "Send requests rejected by validation",
		}, []string{"reason"}),
		undelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_undelivered_total",
			Help:      "Messages whose recipient had no live connection",
		}),
		agentsMarkedOffline: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "agents_marked_offline_total",
			Help:      "Agents flipped to offline by the heartbeat reconciler",
		}),
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "reconcile_runs_total",
			Help:      "Heartbeat reconciliation ticks by outcome",
		}, []string{"result"}),
	}
}

func (m *Hub) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

func (m *Hub) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

func (m *Hub) PongTimeout() {
	if m == nil {
		return
	}
	m.pongTimeouts.Inc()
}

func (m *Hub) MessageCreated(msgType string) {
	if m == nil {
		return
	}
	m.messagesCreated.WithLabelValues(msgType).Inc()
}

func (m *Hub) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.messagesRejected.WithLabelValues(reason).Inc()
}

func (m *Hub) MessageUndelivered() {
	if m == nil {
		return
	}
	m.undelivered.Inc()
}

func (m *Hub) AgentMarkedOffline() {
	if m == nil {
		return
	}
	m.agentsMarkedOffline.Inc()
}

func (m *Hub) ReconcileRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

type Daemon struct {
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	wakeupsSkipped *prometheus.CounterVec
	spawns         *prometheus.CounterVec
}

// NewDaemon registers the daemon collectors on reg.
func NewDaemon(reg prometheus.Registerer) *Daemon {
	f := promauto.With(reg)
	return &Daemon{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "connection_state",
			Help:      "1 for the current hub connection state, 0 otherwise",
		}, []string{"state"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts",
		}),
		wakeupsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "wakeups_skipped_total",
			Help:      "Undelivered-message events that did not spawn, by reason",
		}, []string{"reason"}),
		spawns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "spawns_total",
			Help:      "Headless agent spawn attempts by type and result",
		}, []string{"agent_type", "result"}),
	}
}

// StateChanged sets the gauge for to and clears it for from.
func (m *Daemon) StateChanged(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.state.WithLabelValues(from).Set(0)
	}
	m.state.WithLabelValues(to).Set(1)
}

func (m *Daemon) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Daemon) WakeupSkipped(reason string) {
	if m == nil {
		return
	}
	m.wakeupsSkipped.WithLabelValues(reason).Inc()
}

func (m *Daemon) Spawn(agentType, result string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(agentType, result).Inc()
}
