// Package lifecycle implements the daemon's own process lifecycle: the advisory lock / version stamp / WAL-replay sequence that
// runs before the listener starts accepting requests, the worker/cron/
// agent reconciliation that follows replay, periodic snapshotting, and
// the shutdown sequence that leaves agent host processes running so they
// can be rejoined on the next startup.
package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/runtime"
	"github.com/ajlab/ojd/internal/state"
	"github.com/ajlab/ojd/internal/wal"
	"go.uber.org/zap"
)

// daemonVersion is stamped into oj.version on every successful startup
// so a future incompatible on-disk format change has somewhere to check
// compatibility against.
const daemonVersion = "1"

// Manager owns the parts of startup/shutdown that live outside the event
// loop proper: the advisory file lock, the version stamp, snapshot
// load/save, and reconciliation.
type Manager struct {
	Cfg   *config.Config
	Log   *logger.Logger
	State *state.MaterializedState
	WAL   *wal.Store
	Snap  wal.SnapshotBackend
	RT    *runtime.Runtime

	lockFile *os.File
}

// New builds a Manager. Call AcquireLock, WriteVersionStamp, Restore,
// and Reconcile in that order before the listener begins accepting.
func New(cfg *config.Config, log *logger.Logger, st *state.MaterializedState, w *wal.Store, snap wal.SnapshotBackend, rt *runtime.Runtime) *Manager {
	return &Manager{Cfg: cfg, Log: log.Named("lifecycle"), State: st, WAL: w, Snap: snap, RT: rt}
}

func (m *Manager) lockPath() string    { return filepath.Join(m.Cfg.StateDir, "oj.lock") }
func (m *Manager) versionPath() string { return filepath.Join(m.Cfg.StateDir, "oj.version") }

// AcquireLock takes an exclusive, non-blocking advisory lock on oj.lock.
// On failure it returns without touching any file on disk: the running
// daemon's files must survive a conflict.
func (m *Manager) AcquireLock() error {
	if err := os.MkdirAll(m.Cfg.StateDir, 0o755); err != nil {
		return ojerr.Fatal("create state dir", err)
	}
	f, err := os.OpenFile(m.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return ojerr.Fatal("open lock file", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return ojerr.Fatal("LockFailed: another daemon instance holds "+m.lockPath(), err)
	}
	m.lockFile = f
	return nil
}

// ReleaseLock unlocks and closes oj.lock, if held.
func (m *Manager) ReleaseLock() {
	if m.lockFile == nil {
		return
	}
	_ = unix.Flock(int(m.lockFile.Fd()), unix.LOCK_UN)
	_ = m.lockFile.Close()
	m.lockFile = nil
}

type versionStamp struct {
	Version   string `json:"version"`
	StartedMs int64  `json:"started_at_ms"`
	PID       int    `json:"pid"`
}

// WriteVersionStamp records the daemon version and PID that currently
// holds the lock, for operator diagnostics.
func (m *Manager) WriteVersionStamp() error {
	stamp := versionStamp{Version: daemonVersion, StartedMs: time.Now().UnixMilli(), PID: os.Getpid()}
	data, err := json.MarshalIndent(stamp, "", "  ")
	if err != nil {
		return ojerr.Fatal("marshal version stamp", err)
	}
	if err := os.WriteFile(m.versionPath(), data, 0o644); err != nil {
		return ojerr.Fatal("write version stamp", err)
	}
	return nil
}

// Restore loads the most recent snapshot (if any) into state, then
// replays every WAL record after the snapshot's high-water mark, folding
// each one in with runtime.ReplayApply so replay never re-emits effects
// that already ran before the crash/restart.
func (m *Manager) Restore() error {
	afterSeq := uint64(0)
	if m.Snap != nil {
		seq, data, ok, err := m.Snap.Load()
		if err != nil {
			return ojerr.Fatal("load snapshot", err)
		}
		if ok {
			snap, err := state.DecodeSnapshot(data)
			if err != nil {
				return ojerr.Fatal("decode snapshot", err)
			}
			m.State.Restore(snap)
			afterSeq = seq
			m.Log.Info("restored snapshot", zap.Uint64("seq", seq))
		}
	}

	walDir := filepath.Join(m.Cfg.StateDir, "wal")
	count := 0
	err := wal.Replay(walDir, afterSeq, func(env event.Envelope, ev event.Event) error {
		runtime.ReplayApply(m.State, env, ev)
		count++
		return nil
	})
	if err != nil {
		return ojerr.Fatal("wal replay", err)
	}
	m.Log.Info("replayed wal tail", zap.Int("events", count), zap.Uint64("after_seq", afterSeq))
	return nil
}

// Reconcile re-establishes the bookkeeping a crash could have left
// dangling, by re-delivering the same events the runtime already knows
// how to reconcile against. It must be called after rt.Run has
// started draining the channel.
func (m *Manager) Reconcile() {
	var workers []*state.Worker
	var crons []*state.Cron
	var deadAgents []string

	m.State.View(func(s *state.MaterializedState) {
		for _, w := range s.Workers {
			if w.Status == state.WorkerRunning {
				workers = append(workers, w)
			}
		}
		for _, c := range s.Crons {
			if c.Status == state.CronRunning {
				crons = append(crons, c)
			}
		}
		for id, a := range s.Agents {
			switch a.Status {
			case state.AgentStarting, state.AgentRunning, state.AgentWaitingForInput:
				deadAgents = append(deadAgents, id)
			}
		}
	})

	for _, w := range workers {
		m.Log.Info("reconciling worker", zap.String("name", w.Name), zap.String("project", w.Project))
		hash := m.rehydrateRunbook(w.ProjectPath, w.RunbookHash)
		m.RT.Submit(&event.WorkerStarted{
			Name: w.Name, Project: w.Project, ProjectPath: w.ProjectPath, RunbookHash: hash,
			Concurrency: w.Concurrency, QueueName: w.QueueName, QueueType: w.QueueType, JobKind: w.JobKind,
			RetryAttempts: w.RetryAttempts, RetryCooldown: w.RetryCooldown,
		})
	}
	for _, c := range crons {
		m.Log.Info("reconciling cron", zap.String("name", c.Name), zap.String("project", c.Project))
		hash := m.rehydrateRunbook(c.ProjectPath, c.RunbookHash)
		m.RT.Submit(&event.CronStarted{
			Name: c.Name, Project: c.Project, ProjectPath: c.ProjectPath, RunbookHash: hash,
			Interval: c.Interval, TargetKind: c.TargetKind, TargetName: c.TargetName, Concurrency: c.Concurrency,
		})
	}
	// A non-terminal agent's bridge connection is gone the moment this
	// process restarts: the agent host it was talking to may still be
	// running, but we hold no live handle to it. Treating it as Gone
	// lets the existing death-policy path respawn it (with the agent's
	// prior workspace/session as a resume hint) the same way a real
	// crash would, rather than inventing a separate reattach protocol.
	for _, id := range deadAgents {
		m.Log.Info("agent presumed gone across restart", zap.String("agent_id", id))
		m.RT.Submit(&event.AgentGone{AgentID: ids.AgentID(id)})
	}

	if orphans, err := ScanOrphans(m.Cfg.StateDir, m.State); err != nil {
		m.Log.Warn("scan orphan breadcrumbs failed", zap.Error(err))
	} else {
		for _, id := range orphans {
			m.Log.Warn("orphaned job breadcrumb found", zap.String("job_id", id))
		}
	}
}

// rehydrateRunbook reloads a worker/cron's runbook file from its project
// root into the hash-keyed cache, which holds only what this process has
// loaded and so starts empty after a restart. The freshly loaded hash is
// returned so the reconciled worker/cron pins whatever is on disk now --
// the same contract as a wake-time reload, where edits made while the
// daemon was down take effect without a manual restart. Falls back to
// the stored hash (dispatch will then fail visibly per-job) when the
// file is gone or no longer parses.
func (m *Manager) rehydrateRunbook(projectPath, storedHash string) string {
	path, err := runbook.Discover(projectPath)
	if err != nil {
		m.Log.Warn("runbook rediscovery failed", zap.String("project_path", projectPath), zap.Error(err))
		return storedHash
	}
	rb, err := (runbook.TOMLLoader{}).Load(path)
	if err != nil {
		m.Log.Warn("runbook reload failed", zap.String("path", path), zap.Error(err))
		return storedHash
	}
	m.RT.Runbooks.Put(rb)
	return rb.Hash
}

// RunSnapshotLoop periodically saves a full state snapshot until ctx is
// cancelled, shortening the WAL tail the next restart has to replay.
// A no-op if snapshotting is disabled (interval <= 0).
func (m *Manager) RunSnapshotLoop(ctx context.Context) {
	if m.Snap == nil {
		return
	}
	interval := time.Duration(m.Cfg.Snapshot.IntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.saveSnapshot()
		}
	}
}

func (m *Manager) saveSnapshot() {
	if m.Snap == nil {
		return
	}
	seq := m.WAL.Seq()
	data, err := m.State.EncodeSnapshot()
	if err != nil {
		m.Log.Warn("snapshot encode failed", zap.Error(err))
		return
	}
	if err := m.Snap.Save(seq, time.Now().UnixMilli(), data); err != nil {
		m.Log.Warn("snapshot save failed", zap.Error(err))
		return
	}
	m.Log.Debug("snapshot saved", zap.Uint64("seq", seq))
}

// Shutdown fsyncs and closes the WAL, closes the snapshot backend, and
// releases the advisory lock. It deliberately does not touch any agent
// host process: agent host processes outlive the daemon. The next
// startup's Reconcile does not reattach to them; it records each
// still-active agent as gone, so its owner's death policy runs.
func (m *Manager) Shutdown() error {
	m.saveSnapshot()
	if err := m.WAL.Close(); err != nil {
		return ojerr.Fatal("wal close on shutdown", err)
	}
	if m.Snap != nil {
		if err := m.Snap.Close(); err != nil {
			m.Log.Warn("snapshot backend close failed", zap.Error(err))
		}
	}
	m.ReleaseLock()
	return nil
}

// SockPath is the Unix socket path the listener binds, derived the same
// way every other per-instance file is.
func (m *Manager) SockPath() string { return filepath.Join(m.Cfg.StateDir, "oj.sock") }
