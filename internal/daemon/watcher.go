// Package daemon keeps a resilient connection to the hub on behalf of the
// host and starts headless agents when messages to them go undelivered.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/EternisAI/silo-hub/internal/metrics"
	"github.com/EternisAI/silo-hub/internal/protocol"
)

const (
	DefaultSpawnCooldown = 5 * time.Minute
	DefaultSpawnTimeout  = 10 * time.Minute
	runningCheckTimeout  = 5 * time.Second
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Decision is the outcome of handling one undelivered-message event.
type Decision string

const (
	DecisionNoMatch     Decision = "no_match"
	DecisionDisabled    Decision = "disabled"
	DecisionRunning     Decision = "already_running"
	DecisionCooldown    Decision = "cooldown"
	DecisionSpawned     Decision = "spawned"
	DecisionSpawnFailed Decision = "spawn_failed"
)

type Config struct {
	HubURL        string         `mapstructure:"hub_url"`
	SpawnCooldown time.Duration  `mapstructure:"spawn_cooldown"`
	SpawnTimeout  time.Duration  `mapstructure:"spawn_timeout"`
	BackoffBase   time.Duration  `mapstructure:"backoff_base"`
	BackoffMax    time.Duration  `mapstructure:"backoff_max"`
	Agents        []WakeupConfig `mapstructure:"agents"`
}

func (c Config) withDefaults() Config {
	if c.SpawnCooldown <= 0 {
		c.SpawnCooldown = DefaultSpawnCooldown
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// ConfigLoader reads the current daemon configuration from durable storage.
type ConfigLoader func() (Config, error)

type Options struct {
	Load     ConfigLoader
	Dialer   Dialer
	Prober   ProcessProber
	Launcher Launcher
	Metrics  *metrics.Daemon
	// StartDir is the working directory for agents without an override.
	StartDir string
}

type Watcher struct {
	load     ConfigLoader
	dialer   Dialer
	prober   ProcessProber
	launcher Launcher
	metrics  *metrics.Daemon
	startDir string
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	cfg            Config
	state          State
	attempt        int
	started        bool
	stopped        bool
	transport      Transport
	reconnectTimer *time.Timer
	lastSpawn      map[string]time.Time
	monitors       map[int]*time.Timer
	nextSpawnID    int
}

func NewWatcher(opts Options) *Watcher {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Prober == nil {
		opts.Prober = PgrepProber{}
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.StartDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.StartDir = wd
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		load:      opts.Load,
		dialer:    opts.Dialer,
		prober:    opts.Prober,
		launcher:  opts.Launcher,
		metrics:   opts.Metrics,
		startDir:  opts.StartDir,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		lastSpawn: make(map[string]time.Time),
		monitors:  make(map[int]*time.Timer),
	}
}

// Start loads the configuration and begins connecting in the background.
func (w *Watcher) Start() error {
	cfg, err := w.load()
	if err != nil {
		return fmt.Errorf("failed to load daemon config: %w", err)
	}
	if _, err := WebsocketURL(cfg.HubURL); err != nil {
		return err
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.cfg = cfg.withDefaults()
	w.mu.Unlock()

	slog.Info("Daemon watcher starting",
		"hub_url", cfg.HubURL,
		"agent_types", len(cfg.Agents))

	go w.connect()
	return nil
}

// Stop suppresses reconnects, closes the hub connection with a normal
// closure and cancels every pending timer.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	for id, timer := range w.monitors {
		timer.Stop()
		delete(w.monitors, id)
	}
	t := w.transport
	w.transport = nil
	w.setStateLocked(StateDisconnected)
	w.mu.Unlock()

	w.cancel()
	if t != nil {
		if err := t.Close(true); err != nil {
			slog.Debug("Failed to close hub connection", "error", err)
		}
	}
	slog.Info("Daemon watcher stopped")
}

// Reload re-reads the wakeup table and hub URL. A changed hub URL drops the
// current connection so the next attempt uses the new address.
func (w *Watcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		return fmt.Errorf("failed to reload daemon config: %w", err)
	}
	if _, err := WebsocketURL(cfg.HubURL); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	w.mu.Lock()
	urlChanged := cfg.HubURL != w.cfg.HubURL
	w.cfg = cfg
	t := w.transport
	w.mu.Unlock()

	slog.Info("Daemon config reloaded",
		"hub_url", cfg.HubURL,
		"agent_types", len(cfg.Agents),
		"hub_url_changed", urlChanged)

	if urlChanged && t != nil {
		if err := t.Close(false); err != nil {
			slog.Debug("Failed to close hub connection", "error", err)
		}
	}
	return nil
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) connect() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.reconnectTimer = nil
	w.setStateLocked(StateConnecting)
	hubURL := w.cfg.HubURL
	w.mu.Unlock()

	wsURL, err := WebsocketURL(hubURL)
	if err != nil {
		slog.Error("Invalid hub url", "hub_url", hubURL, "error", err)
		w.scheduleReconnect()
		return
	}

	slog.Info("Connecting to hub", "url", wsURL)
	t, err := w.dialer.Dial(w.ctx, wsURL)
	if err != nil {
		slog.Warn("Failed to connect to hub", "url", wsURL, "error", err)
		w.scheduleReconnect()
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = t.Close(true)
		return
	}
	w.transport = t
	w.attempt = 0
	w.setStateLocked(StateConnected)
	w.mu.Unlock()

	slog.Info("Connected to hub", "url", wsURL)
	if err := t.Write(protocol.MustNew(protocol.TypeRegister, protocol.RegisterPayload{
		ClientType: protocol.ClientTypeDaemon,
	})); err != nil {
		slog.Warn("Failed to register with hub", "error", err)
	}

	w.readLoop(t)
}

func (w *Watcher) readLoop(t Transport) {
	for {
		data, err := t.Read()
		if err != nil {
			w.onClose(t, err)
			return
		}
		env, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("Ignoring malformed envelope from hub", "error", err)
			continue
		}
		w.handle(t, env)
	}
}

func (w *Watcher) handle(t Transport, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHeartbeat:
		if env.HeartbeatKind() == protocol.HeartbeatPing {
			if err := t.Write(protocol.Pong()); err != nil {
				slog.Debug("Failed to answer ping", "error", err)
			}
		}
	case protocol.TypeRegister:
		var ack protocol.RegisteredPayload
		if err := env.Decode(&ack); err == nil {
			slog.Info("Registered with hub", "key", ack.Key)
		}
	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = env.Decode(&p)
		slog.Warn("Hub reported an error", "error", p.Error)
	case protocol.TypeMessageUndelivered:
		var p protocol.UndeliveredPayload
		if err := env.Decode(&p); err != nil {
			slog.Warn("Ignoring undelivered event", "error", err)
			return
		}
		go w.HandleUndelivered(p)
	default:
		slog.Debug("Ignoring hub envelope", "type", env.Type)
	}
}

func (w *Watcher) onClose(t Transport, err error) {
	w.mu.Lock()
	if w.transport == t {
		w.transport = nil
	}
	stopped := w.stopped
	w.mu.Unlock()

	if stopped {
		return
	}
	slog.Warn("Hub connection closed", "error", err)
	_ = t.Close(false)
	w.scheduleReconnect()
}

func (w *Watcher) scheduleReconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.reconnectTimer != nil {
		return
	}

	delay := Backoff(w.attempt, w.cfg.BackoffBase, w.cfg.BackoffMax)
	w.attempt++
	w.setStateLocked(StateReconnecting)
	w.metrics.Reconnect()
	slog.Info("Reconnecting to hub", "delay", delay, "attempt", w.attempt)
	w.reconnectTimer = time.AfterFunc(delay, w.connect)
}

func (w *Watcher) setStateLocked(s State) {
	if w.state == s {
		return
	}
	w.metrics.StateChanged(string(w.state), string(s))
	slog.Debug("Daemon state changed", "from", w.state, "to", s)
	w.state = s
}

// HandleUndelivered decides whether an undelivered message should start a
// headless agent, and starts it if so.
func (w *Watcher) HandleUndelivered(p protocol.UndeliveredPayload) Decision {
	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()

	decision := w.decide(cfg, p)
	if decision != DecisionSpawned {
		w.metrics.WakeupSkipped(string(decision))
	}
	return decision
}

func (w *Watcher) decide(cfg Config, p protocol.UndeliveredPayload) Decision {
	log := slog.With(
		"recipient_id", p.RecipientAgentID,
		"recipient_name", p.RecipientAgentName,
		"message_id", p.Message.ID)

	wake, ok := MatchWakeup(cfg.Agents, p.RecipientAgentName)
	if !ok {
		log.Debug("No agent type matches recipient")
		return DecisionNoMatch
	}
	log = log.With("agent_type", wake.Type)

	if !wake.HeadlessWakeup {
		log.Debug("Headless wakeup disabled for agent type")
		return DecisionDisabled
	}

	ctx, cancel := context.WithTimeout(w.ctx, runningCheckTimeout)
	running, err := w.prober.Running(ctx, wake.pattern())
	cancel()
	if err != nil {
		log.Warn("Process check failed, assuming not running", "error", err)
	}
	if running {
		log.Info("Agent process already running, not spawning")
		return DecisionRunning
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return DecisionDisabled
	}
	now := w.now()
	if last, ok := w.lastSpawn[wake.Type]; ok && now.Sub(last) < cfg.SpawnCooldown {
		w.mu.Unlock()
		log.Info("Agent type in spawn cooldown", "last_spawn", last)
		return DecisionCooldown
	}
	w.lastSpawn[wake.Type] = now
	w.mu.Unlock()

	dir := wake.WorkingDir
	if dir == "" {
		dir = w.startDir
	}
	proc, err := w.launcher.Launch(LaunchSpec{
		AgentType: wake.Type,
		Command:   wake.Command,
		Args:      RenderArgs(wake.Args, p.Message.Content),
		Dir:       dir,
	})
	if err != nil {
		w.metrics.Spawn(wake.Type, "error")
		log.Error("Failed to spawn headless agent", "command", wake.Command, "error", err)
		return DecisionSpawnFailed
	}

	w.metrics.Spawn(wake.Type, "started")
	log.Info("Spawned headless agent", "command", wake.Command, "pid", proc.PID(), "dir", dir)
	w.monitor(wake.Type, proc, cfg.SpawnTimeout)
	return DecisionSpawned
}

// monitor kills proc if it outlives timeout and logs how it ended.
func (w *Watcher) monitor(agentType string, proc Process, timeout time.Duration) {
	w.mu.Lock()
	w.nextSpawnID++
	id := w.nextSpawnID
	timer := time.AfterFunc(timeout, func() {
		slog.Warn("Headless agent exceeded spawn timeout, killing",
			"agent_type", agentType,
			"pid", proc.PID(),
			"timeout", timeout)
		if err := proc.Kill(); err != nil {
			slog.Warn("Failed to kill headless agent", "pid", proc.PID(), "error", err)
		}
	})
	if w.stopped {
		timer.Stop()
	} else {
		w.monitors[id] = timer
	}
	w.mu.Unlock()

	go func() {
		err := proc.Wait()

		w.mu.Lock()
		if t, ok := w.monitors[id]; ok {
			t.Stop()
			delete(w.monitors, id)
		}
		w.mu.Unlock()

		if err != nil {
			w.metrics.Spawn(agentType, "failed")
			slog.Warn("Headless agent exited with error", "agent_type", agentType, "pid", proc.PID(), "error", err)
			return
		}
		w.metrics.Spawn(agentType, "exited")
		slog.Info("Headless agent exited", "agent_type", agentType, "pid", proc.PID())
	}()
}
