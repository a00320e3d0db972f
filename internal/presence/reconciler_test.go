package presence

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAgent(t *testing.T, st *store.MemoryStore, id string, status models.AgentStatus, heartbeat *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(context.Background(), &models.Agent{
		ID:            id,
		Name:          id,
		DisplayName:   id,
		Status:        status,
		LastHeartbeat: heartbeat,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func TestReconciler_MarksOnlyStaleNonOfflineAgents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := &recordingBroadcaster{}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-91 * time.Second)
	edge := now.Add(-89 * time.Second)

	seedAgent(t, st, "stale", models.AgentStatusOnline, &old)
	seedAgent(t, st, "stale-busy", models.AgentStatusBusy, &old)
	seedAgent(t, st, "fresh", models.AgentStatusOnline, &edge)
	seedAgent(t, st, "gone", models.AgentStatusOffline, &old)
	seedAgent(t, st, "never", models.AgentStatusOnline, nil)

	r := NewReconciler(st, b, nil, time.Second, 90*time.Second)
	r.now = func() time.Time { return now }

	marked, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	for id, want := range map[string]models.AgentStatus{
		"stale":      models.AgentStatusOffline,
		"stale-busy": models.AgentStatusOffline,
		"fresh":      models.AgentStatusOnline,
		"gone":       models.AgentStatusOffline,
		"never":      models.AgentStatusOnline,
	} {
		agent, err := st.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, agent.Status, id)
	}

	require.Len(t, b.envs, 2)
	ids := make([]string, 0, 2)
	for _, env := range b.envs {
		assert.Equal(t, protocol.TypeAgentOffline, env.Type)
		var payload protocol.AgentStatusPayload
		require.NoError(t, env.Decode(&payload))
		assert.Equal(t, models.AgentStatusOffline, payload.Status)
		ids = append(ids, payload.AgentID)
	}
	assert.ElementsMatch(t, []string{"stale", "stale-busy"}, ids)

	marked, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked, "second pass finds nothing new")
	assert.Len(t, b.envs, 2)
}

func TestReconciler_HeartbeatRevivesAfterOffline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := &recordingBroadcaster{}
	svc := NewService(st, b)

	agent, _, err := svc.Register(ctx, RegisterRequest{Name: "codex"})
	require.NoError(t, err)

	r := NewReconciler(st, b, nil, time.Second, 90*time.Second)
	r.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	marked, err := r.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	revived, err := svc.Heartbeat(ctx, agent.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, revived.Status)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	r := NewReconciler(st, nil, nil, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
