package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-hub/internal/metrics"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
)

const (
	DefaultReconcileInterval = 30 * time.Second
	DefaultStaleAfter        = 90 * time.Second
)

// Reconciler marks agents offline once their persisted heartbeat goes stale.
// It works from stored timestamps only and never looks at live connections.
type Reconciler struct {
	store       store.AgentStore
	broadcaster Broadcaster
	metrics     *metrics.Hub
	interval    time.Duration
	staleAfter  time.Duration
	now         func() time.Time
}

func NewReconciler(agentStore store.AgentStore, broadcaster Broadcaster, m *metrics.Hub, interval, staleAfter time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{
		store:       agentStore,
		broadcaster: broadcaster,
		metrics:     m,
		interval:    interval,
		staleAfter:  staleAfter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("Heartbeat reconciler started",
		"interval", r.interval,
		"stale_after", r.staleAfter)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Heartbeat reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				slog.Error("Heartbeat reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile runs a single pass and returns how many agents went offline.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.staleAfter)

	stale, err := r.store.ListStaleAgents(ctx, cutoff)
	r.metrics.ReconcileRun(err)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale agents: %w", err)
	}

	marked := 0
	for i := range stale {
		agent := &stale[i]
		changed, err := r.store.MarkStaleAgentOffline(ctx, agent.ID, cutoff, now)
		if err != nil {
			slog.Warn("Failed to mark agent offline", "agent_id", agent.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}

		marked++
		r.metrics.AgentMarkedOffline()
		slog.Info("Agent marked offline",
			"agent_id", agent.ID,
			"last_heartbeat", agent.LastHeartbeat)

		if r.broadcaster != nil {
			agent.Status = models.AgentStatusOffline
			r.broadcaster.BroadcastAll(protocol.MustNew(protocol.TypeAgentOffline, statusPayload(agent)))
		}
	}
	return marked, nil
}
