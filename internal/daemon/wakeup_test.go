package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
		{-1, 1 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, 30*time.Second), "attempt %d", tt.attempt)
	}
}

func TestMatchWakeup(t *testing.T) {
	configs := []WakeupConfig{
		{Type: "codex", Command: "codex"},
		{Type: "claude-code", Command: "claude"},
	}

	tests := []struct {
		name     string
		agent    string
		wantType string
		wantOK   bool
	}{
		{"exact", "claude-code", "claude-code", true},
		{"exact ignores case", "Claude-Code", "claude-code", true},
		{"display name", "Claude Code 2", "claude-code", true},
		{"name contains key", "my-claude-code-agent", "claude-code", true},
		{"key contains name", "claude", "claude-code", true},
		{"no match", "cursor-agent", "", false},
		{"empty", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchWakeup(configs, tt.agent)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, got.Type)
		})
	}
}

func TestMatchWakeup_ExactBeatsEarlierSubstring(t *testing.T) {
	configs := []WakeupConfig{
		{Type: "code"},
		{Type: "claude-code"},
	}

	got, ok := MatchWakeup(configs, "claude-code")
	require.True(t, ok)
	assert.Equal(t, "claude-code", got.Type)

	got, ok = MatchWakeup(configs, "my-claude-code-agent")
	require.True(t, ok)
	assert.Equal(t, "code", got.Type, "first configured substring match wins")
}

func TestRenderArgs(t *testing.T) {
	args := RenderArgs([]string{"-p", "{message}", "--flag"}, "fix the bug")
	assert.Equal(t, []string{"-p", "fix the bug", "--flag"}, args)

	embedded := RenderArgs([]string{"--prompt={message}"}, "hi")
	assert.Equal(t, []string{"--prompt=hi"}, embedded)

	tmpl := []string{"{message}"}
	RenderArgs(tmpl, "x")
	assert.Equal(t, []string{"{message}"}, tmpl, "template is not mutated")
}

func TestWakeupConfigPattern(t *testing.T) {
	assert.Equal(t, "claude", WakeupConfig{Command: "claude"}.pattern())
	assert.Equal(t, "claude --headless", WakeupConfig{Command: "claude", ProcessPattern: "claude --headless"}.pattern())
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://192.168.1.10:3000", want: "ws://192.168.1.10:3000/ws"},
		{in: "https://hub.local/", want: "wss://hub.local/ws"},
		{in: "http://hub.local/base", want: "ws://hub.local/base/ws"},
		{in: "ws://hub.local/ws", want: "ws://hub.local/ws"},
		{in: "ftp://hub.local", wantErr: true},
		{in: "hub.local:3000", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebsocketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
