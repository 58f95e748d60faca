// Package executor implements runtime.Executor: it performs every
// deferred Effect a handler produces -- subprocess steps, agent host
// spawns, workspace provisioning, queue polling, notifications -- and
// feeds the outcome back into the event loop through Runtime.Submit.
// Nothing here ever touches MaterializedState directly; only events do.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/runtime"
	"github.com/ajlab/ojd/internal/workspace"
	"go.uber.org/zap"
)

// Executor is the single collaborator hub between the event loop and
// every external program the daemon drives: subprocesses, the agent
// host, docker, and the workspace provisioner.
type Executor struct {
	RT  *runtime.Runtime
	Cfg *config.Config
	Log *logger.Logger

	Workspaces workspace.Provisioner
	Docker     *DockerClient // nil when docker.enabled=false or the daemon has no docker socket

	agents *agentHostManager

	// tasks tracks every finite background task (shell steps, queue
	// polls, workspace ops, spawns, sends, notifications) so shutdown
	// can drain them after the cancellation token fires. Agent host
	// bridge readers are deliberately not in the group: they live as
	// long as their agent process, and agents survive daemon shutdown.
	tasks errgroup.Group

	// procs bounds how many external subprocesses (shell steps and
	// queue list commands) run at once.
	procs *semaphore.Weighted
}

// New builds an Executor. ws may be nil, in which case a
// workspace.FolderProvisioner is used. dock may be nil to disable
// docker-runtime agents entirely (SpawnAgent{Runtime: "docker"} then
// fails with AdapterFailure).
func New(rt *runtime.Runtime, cfg *config.Config, log *logger.Logger, ws workspace.Provisioner, dock *DockerClient) *Executor {
	if ws == nil {
		ws = workspace.NewFolderProvisioner()
	}
	maxProcs := cfg.Exec.MaxSubprocesses
	if maxProcs <= 0 {
		maxProcs = 16
	}
	ex := &Executor{
		RT:         rt,
		Cfg:        cfg,
		Log:        log.Named("executor"),
		Workspaces: ws,
		Docker:     dock,
		procs:      semaphore.NewWeighted(maxProcs),
	}
	ex.agents = newAgentHostManager(ex)
	return ex
}

// background runs fn on the drainable task group. Execute must never
// block, so everything that talks to an external program goes through
// here.
func (ex *Executor) background(fn func()) {
	ex.tasks.Go(func() error {
		fn()
		return nil
	})
}

// acquireProc takes a subprocess slot, returning false if ctx was
// cancelled while waiting (shutdown; the subprocess is pointless now).
func (ex *Executor) acquireProc(ctx context.Context) bool {
	if err := ex.procs.Acquire(ctx, 1); err != nil {
		ex.Log.Debug("subprocess slot acquire aborted", zap.Error(err))
		return false
	}
	return true
}

// Wait blocks until every tracked background task has finished. Called
// during shutdown after the cancellation token has fired, so the tasks
// it waits on are all racing their (now cancelled) contexts.
func (ex *Executor) Wait() {
	_ = ex.tasks.Wait()
}

// Execute dispatches a single deferred Effect. It must never block for
// longer than it takes to kick off a goroutine; every effect that talks
// to an external program runs its own background task and reports back
// via RT.Submit.
func (ex *Executor) Execute(ctx context.Context, eff effect.Effect) {
	switch e := eff.(type) {
	case effect.SpawnAgent:
		ex.agents.spawn(ctx, e)
	case effect.SendToAgent:
		ex.agents.send(ctx, e)
	case effect.KillAgent:
		ex.agents.kill(ctx, e)
	case effect.Shell:
		ex.runShell(ctx, e)
	case effect.PollQueue:
		ex.pollQueue(ctx, e)
	case effect.CreateWorkspace:
		ex.createWorkspace(ctx, e)
	case effect.DeleteWorkspace:
		ex.deleteWorkspace(ctx, e)
	case effect.Notify:
		ex.notify(ctx, e)
	default:
		ex.Log.Warn("unhandled effect type", zap.String("type", fmt.Sprintf("%T", eff)))
	}
}

// Shutdown tears down any running agent processes and containers. Best
// effort: it logs failures rather than returning them, since it only
// ever runs during daemon shutdown.
func (ex *Executor) Shutdown(ctx context.Context) {
	ex.agents.shutdownAll(ctx)
}
