package hub

import (
	"context"
	"testing"

	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAgents struct {
	mock.Mock
}

func (m *mockAgents) Get(ctx context.Context, id string) (*models.Agent, error) {
	args := m.Called(ctx, id)
	agent, _ := args.Get(0).(*models.Agent)
	return agent, args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, req messaging.SendRequest) ([]models.Message, error) {
	args := m.Called(ctx, req)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

func registerEnv(t *testing.T, p protocol.RegisterPayload) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.TypeRegister, p)
	require.NoError(t, err)
	return env
}

func lastError(t *testing.T, c *fakeConn) string {
	t.Helper()
	envs := c.envelopes()
	require.NotEmpty(t, envs)
	last := envs[len(envs)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	var p protocol.ErrorPayload
	require.NoError(t, last.Decode(&p))
	return p.Error
}

func TestHandler_RegisterAgent(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	agents := &mockAgents{}
	agents.On("Get", mock.Anything, "agent-1").Return(&models.Agent{ID: "agent-1"}, nil)
	h := NewHandler(r, agents, nil, HandlerConfig{})

	c := newFakeConn("c")
	h.Dispatch(context.Background(), c, registerEnv(t, protocol.RegisterPayload{AgentID: "agent-1"}))

	assert.True(t, r.HasLiveConnections("agent-1"))
	envs := c.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeRegister, envs[0].Type)
	var ack protocol.RegisteredPayload
	require.NoError(t, envs[0].Decode(&ack))
	assert.Equal(t, "registered", ack.Status)
	assert.Equal(t, "agent-1", ack.Key)
	agents.AssertExpectations(t)
}

func TestHandler_RegisterRoles(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	h := NewHandler(r, &mockAgents{}, nil, HandlerConfig{})

	dash, daemon := newFakeConn("d"), newFakeConn("m")
	h.Dispatch(context.Background(), dash, registerEnv(t, protocol.RegisterPayload{ClientType: "dashboard"}))
	h.Dispatch(context.Background(), daemon, registerEnv(t, protocol.RegisterPayload{ClientType: "daemon"}))

	assert.True(t, r.HasLiveConnections(protocol.ClientTypeDashboard))
	assert.True(t, r.HasLiveConnections(protocol.ClientTypeDaemon))
}

func TestHandler_RegisterFailuresKeepConnectionOpen(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	agents := &mockAgents{}
	agents.On("Get", mock.Anything, "ghost").Return(nil, store.ErrAgentNotFound)
	h := NewHandler(r, agents, nil, HandlerConfig{})
	ctx := context.Background()

	c := newFakeConn("c")
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{ClientType: "toaster"}))
	assert.Contains(t, lastError(t, c), "unknown client type")

	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{}))
	assert.Contains(t, lastError(t, c), "agentId or clientType")

	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{AgentID: "ghost"}))
	assert.Contains(t, lastError(t, c), "unknown agent")

	h.Dispatch(ctx, c, protocol.Envelope{Type: protocol.TypeRegister})
	assert.Contains(t, lastError(t, c), "no payload")

	assert.False(t, c.isClosed())
	assert.Empty(t, r.Snapshot())

	// the caller may retry on the same connection
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{ClientType: "dashboard"}))
	assert.True(t, r.HasLiveConnections(protocol.ClientTypeDashboard))
}

func TestHandler_RequiresRegistrationFirst(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	h := NewHandler(r, &mockAgents{}, &mockSender{}, HandlerConfig{})

	c := newFakeConn("c")
	h.Dispatch(context.Background(), c, protocol.Ping())
	assert.Contains(t, lastError(t, c), "register first")
}

func TestHandler_Heartbeats(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	h := NewHandler(r, &mockAgents{}, nil, HandlerConfig{})
	ctx := context.Background()

	c := newFakeConn("c")
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{ClientType: "dashboard"}))

	h.Dispatch(ctx, c, protocol.Ping())
	envs := c.envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, protocol.HeartbeatPong, envs[1].HeartbeatKind())

	h.Dispatch(ctx, c, protocol.Pong())
	assert.Len(t, c.envelopes(), 2, "pongs are not answered")
}

func TestHandler_MessageFromAgentUsesRegisteredSender(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	agents := &mockAgents{}
	agents.On("Get", mock.Anything, "agent-1").Return(&models.Agent{ID: "agent-1"}, nil)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req messaging.SendRequest) bool {
		return req.From == "agent-1" && req.To == "agent-2" && req.Content == "hi" && req.Type == models.MessageTypeQuery
	})).Return([]models.Message{{ID: "m1"}}, nil).Once()
	sender.On("Send", mock.Anything, mock.Anything).Return(nil, messaging.ErrContentTooLarge).Once()
	h := NewHandler(r, agents, sender, HandlerConfig{})
	ctx := context.Background()

	c := newFakeConn("c")
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{AgentID: "agent-1"}))

	h.Dispatch(ctx, c, protocol.MustNew(protocol.TypeMessage, protocol.SendPayload{To: "agent-2", Content: "hi", Type: "query"}))
	assert.Len(t, c.envelopes(), 1, "successful send has no reply")

	h.Dispatch(ctx, c, protocol.MustNew(protocol.TypeMessage, protocol.SendPayload{To: "agent-2", Content: "big"}))
	assert.Equal(t, messaging.ErrContentTooLarge.Error(), lastError(t, c))
	sender.AssertExpectations(t)
}

func TestHandler_RoleConnectionsCannotSend(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	sender := &mockSender{}
	h := NewHandler(r, &mockAgents{}, sender, HandlerConfig{})
	ctx := context.Background()

	c := newFakeConn("c")
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{ClientType: "daemon"}))
	h.Dispatch(ctx, c, protocol.MustNew(protocol.TypeMessage, protocol.SendPayload{To: "x", Content: "y"}))

	assert.Contains(t, lastError(t, c), "only agent connections")
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHandler_UnsupportedType(t *testing.T) {
	r := NewRegistry(quiet, nil)
	defer r.Stop()
	h := NewHandler(r, &mockAgents{}, nil, HandlerConfig{})
	ctx := context.Background()

	c := newFakeConn("c")
	h.Dispatch(ctx, c, registerEnv(t, protocol.RegisterPayload{ClientType: "dashboard"}))
	h.Dispatch(ctx, c, protocol.Envelope{Type: protocol.TypeAgentOnline})

	assert.Contains(t, lastError(t, c), "unsupported envelope type")
}
