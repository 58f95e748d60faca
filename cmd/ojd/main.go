// Command ojd is the agent-orchestration daemon: a persistent background
// service that supervises long-running coding agents and shell jobs on
// behalf of a local developer. This file only wires collaborators
// together; all behavior lives in internal/.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/executor"
	"github.com/ajlab/ojd/internal/lifecycle"
	"github.com/ajlab/ojd/internal/listener"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/runtime"
	"github.com/ajlab/ojd/internal/state"
	"github.com/ajlab/ojd/internal/wal"
	"github.com/ajlab/ojd/internal/workspace"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)
	log.Info("starting ojd", zap.String("state_dir", cfg.StateDir))

	// 3. Create context with cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Open the materialized state and WAL
	st := state.New()
	walStore, err := wal.Open(walDir(cfg.StateDir))
	if err != nil {
		log.Fatal("failed to open wal", zap.Error(err))
	}

	// 5. Open the snapshot backend
	snap, err := wal.OpenBackend(cfg.Snapshot.Backend, cfg.StateDir)
	if err != nil {
		log.Fatal("failed to open snapshot backend", zap.Error(err))
	}

	// 6. Load the runbook cache
	runbooks := runbook.NewCache()

	// 7. Build the runtime (its Executor is wired in after step 9 below,
	// since the executor itself needs a handle back to the runtime)
	rt := runtime.New(st, walStore, runbooks, cfg, log, nil, func() int64 { return time.Now().UnixMilli() })

	// 8. Initialize the lifecycle manager and acquire the instance lock
	lc := lifecycle.New(cfg, log, st, walStore, snap, rt)
	if err := lc.AcquireLock(); err != nil {
		log.Fatal("failed to acquire daemon lock", zap.Error(err))
	}
	defer lc.ReleaseLock()
	if err := lc.WriteVersionStamp(); err != nil {
		log.Fatal("failed to write version stamp", zap.Error(err))
	}

	// 9. Wire the executor (subprocesses, agent host, docker, workspaces)
	var dock *executor.DockerClient
	if cfg.Docker.Enabled {
		dock, err = executor.NewDockerClient(cfg.Docker, log)
		if err != nil {
			log.Warn("docker client unavailable, docker-runtime agents disabled", zap.Error(err))
			dock = nil
		}
	}
	ex := executor.New(rt, cfg, log, workspace.NewFolderProvisioner(), dock)
	rt.Executor = ex

	// 10. Wire job breadcrumbs
	crumbs, err := lifecycle.NewBreadcrumbs(cfg.StateDir)
	if err != nil {
		log.Fatal("failed to prepare breadcrumb directory", zap.Error(err))
	}
	rt.JobObserver = crumbs.Observe

	// 11. Replay the WAL (snapshot + tail) before anything can submit new
	// events
	if err := lc.Restore(); err != nil {
		log.Fatal("failed to restore state", zap.Error(err))
	}

	// 12. Start the event loop
	loopErrCh := make(chan error, 1)
	go func() { loopErrCh <- rt.Run(ctx) }()

	// 13. Reconcile workers, crons, and agents against the restored state
	lc.Reconcile()

	// 14. Start periodic snapshotting
	go lc.RunSnapshotLoop(ctx)

	// 15. Start the listener
	l := listener.New(cfg.Listen, st, rt, log)
	listenErrCh := make(chan error, 1)
	go func() { listenErrCh <- l.Serve(ctx, lc.SockPath()) }()

	log.Info("ojd ready", zap.String("socket", lc.SockPath()))

	// 16. Wait for shutdown: either a signal (ctx cancelled) or a fatal
	// runtime/listener error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-loopErrCh:
		if err != nil && err != context.Canceled {
			log.Error("event loop exited unexpectedly", zap.Error(err))
		}
		stop()
	case err := <-listenErrCh:
		if err != nil {
			log.Error("listener exited unexpectedly", zap.Error(err))
		}
		stop()
	}

	// 17. Graceful shutdown: stop accepting, drain the loop and the
	// executor's background tasks, fsync WAL, release the lock. Agent
	// host processes are left running; the next startup's Reconcile does
	// not reattach to them: it records each still-active agent as gone,
	// and its owner's death policy decides what follows.
	l.Close()
	<-loopErrCh
	ex.Wait()
	if err := lc.Shutdown(); err != nil {
		log.Error("lifecycle shutdown error", zap.Error(err))
	}
	log.Info("ojd stopped")
}

func walDir(stateDir string) string { return filepath.Join(stateDir, "wal") }
