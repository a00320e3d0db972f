package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func requireShell(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range append([]string{"sh"}, tools...) {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

// loopingShell runs until killed; marker lands in its command line.
func loopingShell(marker string) LaunchSpec {
	return LaunchSpec{
		AgentType: "looper",
		Command:   "sh",
		Args:      []string{"-c", "while :; do sleep 0.1; done", marker},
	}
}

func TestExecLauncher_ForwardsOutputWithArgsAndDir(t *testing.T) {
	requireShell(t)
	logs := captureLogs(t)
	dir := t.TempDir()

	proc, err := ExecLauncher{}.Launch(LaunchSpec{
		AgentType: "claude-code",
		Command:   "sh",
		Args:      []string{"-c", `pwd -P; printf '%s\n' "$1"; echo oops >&2`, "sh", "fix the bug"},
		Dir:       dir,
	})
	require.NoError(t, err)
	assert.Positive(t, proc.PID())
	require.NoError(t, proc.Wait())

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	lines := map[string][]string{}
	for _, rec := range logs.records(t) {
		if rec["msg"] != "Agent output" {
			continue
		}
		assert.Equal(t, "claude-code", rec["agent_type"])
		assert.Equal(t, float64(proc.PID()), rec["pid"])
		stream, _ := rec["stream"].(string)
		line, _ := rec["line"].(string)
		lines[stream] = append(lines[stream], line)
	}
	assert.Equal(t, []string{resolved, "fix the bug"}, lines["stdout"])
	assert.Equal(t, []string{"oops"}, lines["stderr"])
}

func TestExecLauncher_MissingCommand(t *testing.T) {
	_, err := ExecLauncher{}.Launch(LaunchSpec{AgentType: "ghost", Command: "silo-hub-no-such-binary"})
	assert.ErrorContains(t, err, "failed to start silo-hub-no-such-binary")
}

func TestExecLauncher_KillEndsWait(t *testing.T) {
	requireShell(t, "sleep")
	captureLogs(t)

	proc, err := ExecLauncher{}.Launch(loopingShell("silo-hub-kill-test"))
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Kill")
	}
}

func TestPgrep_SeesLaunchedProcess(t *testing.T) {
	requireShell(t, "sleep", "pgrep")
	captureLogs(t)
	ctx := context.Background()
	marker := fmt.Sprintf("silo-hub-pgrep-%d", time.Now().UnixNano())

	running, err := PgrepProber{}.Running(ctx, marker)
	require.NoError(t, err)
	assert.False(t, running)

	proc, err := ExecLauncher{}.Launch(loopingShell(marker))
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Kill() })

	assert.Eventually(t, func() bool {
		running, err := PgrepProber{}.Running(ctx, marker)
		return err == nil && running
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, proc.Kill())
	_ = proc.Wait()

	running, err = PgrepProber{}.Running(ctx, marker)
	require.NoError(t, err)
	assert.False(t, running)
}
