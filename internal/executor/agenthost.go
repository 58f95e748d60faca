package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	agentHostReadLimit = 1024 * 1024
	agentHostPongWait  = 60 * time.Second
	agentHostPingEvery = (agentHostPongWait * 9) / 10
)

// agentConfig is written to <agent-dir>/agent-config.json before the
// agent host is spawned: settings, stop mode, and the optional start
// prime.
type agentConfig struct {
	Stop   string        `json:"stop"`
	Start  string        `json:"start,omitempty"`
	Resume *resumeConfig `json:"resume,omitempty"`
}

type resumeConfig struct {
	WorkspacePath string `json:"workspace_path"`
	SessionID     string `json:"session_id,omitempty"`
}

// agentProc tracks one running (or starting) agent host instance.
type agentProc struct {
	agentID     ids.AgentID
	socketPath  string
	httpClient  *http.Client
	cmd         *exec.Cmd
	containerID string
	cancel      context.CancelFunc
	conn        *websocket.Conn
	connMu      sync.Mutex
}

// agentHostManager owns every live agent host bridge. One instance lives
// for the lifetime of the daemon process.
type agentHostManager struct {
	ex    *Executor
	mu    sync.Mutex
	procs map[ids.AgentID]*agentProc
}

func newAgentHostManager(ex *Executor) *agentHostManager {
	return &agentHostManager{ex: ex, procs: make(map[ids.AgentID]*agentProc)}
}

func (m *agentHostManager) register(p *agentProc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[p.agentID] = p
}

func (m *agentHostManager) get(id ids.AgentID) (*agentProc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	return p, ok
}

func (m *agentHostManager) remove(id ids.AgentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, id)
}

// spawn runs the full startup sequence: ensure workspace exists, write
// agent-config.json, spawn the host, poll health, open the WS bridge.
// Entirely backgrounded: the caller (Executor.Execute) must not block.
func (m *agentHostManager) spawn(parent context.Context, e effect.SpawnAgent) {
	m.ex.background(func() {
		agentID := ids.NewAgentID()
		log := m.ex.Log.WithFields(zap.String("agent_id", string(agentID)), zap.String("agent_name", e.AgentName))

		agentDir := filepath.Join(m.ex.Cfg.StateDir, "agents", string(agentID))
		if err := os.MkdirAll(agentDir, 0o755); err != nil {
			m.fail(e, fmt.Sprintf("agent dir: %v", err))
			return
		}
		socketPath := filepath.Join(agentDir, "coop.sock")

		cfg := agentConfig{Stop: nonEmpty(e.StopMode, "gate"), Start: e.Prime}
		if e.Resume != nil {
			cfg.Resume = &resumeConfig{WorkspacePath: e.Resume.WorkspacePath, SessionID: e.Resume.SessionID}
		}
		configPath := filepath.Join(agentDir, "agent-config.json")
		if err := writeJSONFile(configPath, cfg); err != nil {
			m.fail(e, fmt.Sprintf("agent-config.json: %v", err))
			return
		}

		ctx, cancel := context.WithCancel(parent)
		proc := &agentProc{
			agentID:    agentID,
			socketPath: socketPath,
			httpClient: unixHTTPClient(socketPath),
			cancel:     cancel,
		}

		if err := m.start(ctx, proc, e, socketPath, configPath); err != nil {
			cancel()
			m.fail(e, err.Error())
			return
		}
		m.register(proc)

		if !m.waitHealthy(ctx, proc) {
			log.Warn("agent host never became healthy")
			m.teardown(proc)
			m.fail(e, "agent host did not become healthy")
			return
		}

		sessionID := string(ids.NewSessionID())
		m.ex.RT.Submit(&event.AgentSpawned{
			AgentID: agentID, OwnerKind: e.OwnerKind, OwnerID: e.OwnerID,
			AgentName: e.AgentName, Project: e.Project, WorkspacePath: e.WorkspacePath,
			Runtime: e.Runtime, SessionID: sessionID,
		})

		if err := m.openBridge(ctx, proc); err != nil {
			log.Warn("agent host websocket bridge failed to open", zap.Error(err))
			m.ex.RT.Submit(&event.AgentGone{AgentID: agentID})
			return
		}
		// The bridge reader stays off the drainable task group: it runs
		// for the agent's whole lifetime, and agents outlive a daemon
		// shutdown.
		go m.readBridge(ctx, proc)
	})
}

func (m *agentHostManager) fail(e effect.SpawnAgent, reason string) {
	m.ex.RT.Submit(&event.AgentSpawnFailed{OwnerKind: e.OwnerKind, OwnerID: e.OwnerID, Reason: reason})
}

// start spawns the agent host binary (or, for Runtime=="docker", a
// container running it) with the host's expected argument order: `--agent
// <kind> --socket <path> [--agent-config ...] [--resume <workspace>] --
// bash -c '<cmd> "$@"' _`.
func (m *agentHostManager) start(ctx context.Context, proc *agentProc, e effect.SpawnAgent, socketPath, configPath string) error {
	kind := nonEmpty(e.HostKind, e.AgentName)
	args := []string{"--agent", kind, "--socket", socketPath, "--agent-config", configPath}
	if e.Resume != nil {
		args = append(args, "--resume", e.Resume.WorkspacePath)
	}
	args = append(args, "--", "bash", "-c", kind+` "$@"`, "_")

	switch e.Runtime {
	case "", "coop":
		cmd := exec.CommandContext(ctx, m.ex.Cfg.AgentHost.BinaryPath, args...)
		cmd.Dir = e.Cwd
		if err := cmd.Start(); err != nil {
			return ojerr.AdapterFailure("agent_host", fmt.Errorf("spawn: %w", err))
		}
		proc.cmd = cmd
		go func() { _ = cmd.Wait() }() // reap; exit status surfaces via the WS bridge's Exited/Gone signal
		return nil
	case "docker":
		if m.ex.Docker == nil {
			return ojerr.AdapterFailure("agent_host", errDockerDisabled)
		}
		spec := ContainerSpec{
			Name:  "ojd-agent-" + string(proc.agentID),
			Image: m.ex.Cfg.AgentHost.BinaryPath,
			Cmd:   args,
			Mounts: []BindMount{
				{Source: filepath.Dir(socketPath), Target: filepath.Dir(socketPath)},
				{Source: e.WorkspacePath, Target: e.WorkspacePath},
			},
			Labels: map[string]string{"ojd.agent_id": string(proc.agentID)},
		}
		containerID, err := m.ex.Docker.Run(ctx, spec)
		if err != nil {
			return ojerr.AdapterFailure("agent_host", err)
		}
		proc.containerID = containerID
		return nil
	case "k8s":
		// Accepted by the type system, but no provisioner ships for it.
		return ojerr.AdapterFailure("agent_host", errK8sNotConfigured)
	default:
		return ojerr.AdapterFailure("agent_host", fmt.Errorf("unsupported agent runtime %q", e.Runtime))
	}
}

// waitHealthy polls GET /api/v1/health until it returns 200, the
// configured attempt budget is exhausted, or ctx is cancelled. Defaults
// to 200 attempts at 50ms apart.
func (m *agentHostManager) waitHealthy(ctx context.Context, proc *agentProc) bool {
	attempts := m.ex.Cfg.AgentHost.HealthPollAttempts
	if attempts <= 0 {
		attempts = 200
	}
	delay := time.Duration(m.ex.Cfg.AgentHost.HealthPollDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/api/v1/health", nil)
		resp, err := proc.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return false
}

func (m *agentHostManager) openBridge(ctx context.Context, proc *agentProc) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", proc.socketPath)
		},
	}
	conn, _, err := dialer.DialContext(ctx, "ws://unix/ws?subscribe=state,messages", nil)
	if err != nil {
		return fmt.Errorf("dial agent host ws: %w", err)
	}
	proc.conn = conn
	return nil
}

// bridgeMessage is one frame on the agent host's state/messages stream.
type bridgeMessage struct {
	Kind      string     `json:"kind"` // state | prompt | exited | gone | signal
	State     string     `json:"state,omitempty"`
	PromptType string    `json:"prompt_type,omitempty"`
	Context   string     `json:"context,omitempty"`
	Options   []string   `json:"options,omitempty"`
	Questions []string   `json:"questions,omitempty"`
	Code      int        `json:"code,omitempty"`
	Signal    string     `json:"signal,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// readBridge is the ReadPump half of the WS bridge: it translates every
// streamed agent-host signal (Working/WaitingForInput/Prompt/
// Exited/Gone/Signal) into the matching runtime event.
func (m *agentHostManager) readBridge(ctx context.Context, proc *agentProc) {
	defer m.teardown(proc)

	conn := proc.conn
	conn.SetReadLimit(agentHostReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(agentHostPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(agentHostPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.ex.Log.Debug("agent host bridge closed", zap.String("agent_id", string(proc.agentID)), zap.Error(err))
			m.ex.RT.Submit(&event.AgentGone{AgentID: proc.agentID})
			return
		}
		var msg bridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.ex.Log.Warn("agent host sent malformed frame", zap.Error(err))
			continue
		}
		if m.dispatch(proc.agentID, msg) {
			return
		}
	}
}

// dispatch submits the event msg implies; returns true if the bridge
// should stop reading (process signalled terminal state).
func (m *agentHostManager) dispatch(agentID ids.AgentID, msg bridgeMessage) bool {
	switch msg.Kind {
	case "state":
		switch msg.State {
		case "working":
			m.ex.RT.Submit(&event.AgentWorking{AgentID: agentID})
		case "waiting_for_input":
			m.ex.RT.Submit(&event.AgentWaiting{AgentID: agentID})
		}
		return false
	case "prompt":
		m.ex.RT.Submit(&event.AgentPrompt{
			AgentID: agentID, Type: event.PromptKind(msg.PromptType),
			Context: msg.Context, Options: msg.Options, Questions: msg.Questions,
		})
		return false
	case "exited":
		m.ex.RT.Submit(&event.AgentExited{AgentID: agentID, Code: msg.Code})
		return true
	case "gone":
		m.ex.RT.Submit(&event.AgentGone{AgentID: agentID})
		return true
	case "signal":
		m.ex.RT.Submit(&event.AgentSignal{AgentID: agentID, Kind_: event.SignalKind(msg.Signal), Message: msg.Message})
		return false
	default:
		return false
	}
}

// send delivers input text via POST /api/v1/input (deferred).
func (m *agentHostManager) send(parent context.Context, e effect.SendToAgent) {
	m.ex.background(func() {
		proc, ok := m.get(ids.AgentID(e.AgentID))
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		defer cancel()

		body, _ := json.Marshal(map[string]string{"input": e.Input})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix/api/v1/input", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := proc.httpClient.Do(req)
		if err != nil {
			m.ex.Log.Warn("send to agent failed", zap.String("agent_id", e.AgentID), zap.Error(err))
			return
		}
		resp.Body.Close()
	})
}

// kill terminates the agent process (fire-and-forget); no
// AgentGone is submitted here, the bridge's own read loop reports it
// once the process actually exits.
func (m *agentHostManager) kill(parent context.Context, e effect.KillAgent) {
	m.ex.background(func() {
		proc, ok := m.get(ids.AgentID(e.AgentID))
		if !ok {
			return
		}
		m.killProcess(parent, proc)
	})
}

func (m *agentHostManager) killProcess(ctx context.Context, proc *agentProc) {
	if proc.containerID != "" && m.ex.Docker != nil {
		if err := m.ex.Docker.Kill(ctx, proc.containerID); err != nil {
			m.ex.Log.Warn("kill container failed", zap.String("container_id", proc.containerID), zap.Error(err))
		}
		return
	}
	if proc.cmd != nil && proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
	}
}

func (m *agentHostManager) teardown(proc *agentProc) {
	proc.connMu.Lock()
	if proc.conn != nil {
		_ = proc.conn.Close()
	}
	proc.connMu.Unlock()
	proc.cancel()
	m.remove(proc.agentID)
}

func (m *agentHostManager) shutdownAll(ctx context.Context) {
	m.mu.Lock()
	procs := make([]*agentProc, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		m.killProcess(ctx, p)
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func unixHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 0,
	}
}
