package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

const maxOutputLine = 1024 * 1024

// ProcessProber reports whether a process whose command line matches
// pattern is running on this host.
type ProcessProber interface {
	Running(ctx context.Context, pattern string) (bool, error)
}

type PgrepProber struct{}

func (PgrepProber) Running(ctx context.Context, pattern string) (bool, error) {
	err := exec.CommandContext(ctx, "pgrep", "-f", pattern).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to run pgrep: %w", err)
}

type LaunchSpec struct {
	AgentType string
	Command   string
	Args      []string
	Dir       string
}

type Process interface {
	PID() int
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts agents as child processes with the daemon's
// environment and forwards their output into the log.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	p := &execProcess{cmd: cmd}
	p.output.Add(2)
	go p.forward(stdout, "stdout", spec.AgentType)
	go p.forward(stderr, "stderr", spec.AgentType)
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output sync.WaitGroup
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

// Wait drains the output pipes before reaping, as exec.Cmd requires.
func (p *execProcess) Wait() error {
	p.output.Wait()
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) forward(r io.Reader, stream, agentType string) {
	defer p.output.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	for scanner.Scan() {
		slog.Info("Agent output",
			"agent_type", agentType,
			"pid", p.cmd.Process.Pid,
			"stream", stream,
			"line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Agent output stream ended", "agent_type", agentType, "stream", stream, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
