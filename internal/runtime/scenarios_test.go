package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
	"github.com/ajlab/ojd/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor captures every deferred effect instead of performing
// it, so a test can assert on what the runtime asked for (Shell,
// SpawnAgent, SendToAgent, ...) without a real subprocess/agent-host
// collaborator.
type recordingExecutor struct {
	mu      sync.Mutex
	effects []effect.Effect
}

func (r *recordingExecutor) Execute(ctx context.Context, eff effect.Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, eff)
}

func (r *recordingExecutor) all() []effect.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]effect.Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

func (r *recordingExecutor) ofKind(kind string) []effect.Effect {
	var out []effect.Effect
	for _, e := range r.all() {
		if effectKind(e) == kind {
			out = append(out, e)
		}
	}
	return out
}

func effectKind(eff effect.Effect) string {
	switch eff.(type) {
	case effect.Shell:
		return "Shell"
	case effect.SpawnAgent:
		return "SpawnAgent"
	case effect.SendToAgent:
		return "SendToAgent"
	case effect.KillAgent:
		return "KillAgent"
	case effect.CreateWorkspace:
		return "CreateWorkspace"
	case effect.DeleteWorkspace:
		return "DeleteWorkspace"
	case effect.PollQueue:
		return "PollQueue"
	case effect.Notify:
		return "Notify"
	default:
		return "other"
	}
}

// newTestRuntime builds a Runtime backed by a real, disposable WAL file
// and a recordingExecutor, with a fixed clock so timer/decision
// timestamps are deterministic across a test.
func newTestRuntime(t *testing.T, maxStepVisits int) (*Runtime, *recordingExecutor) {
	t.Helper()
	w, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	cfg := &config.Config{
		StateDir: t.TempDir(),
		Liveness: config.LivenessConfig{IntervalSeconds: 5, ExitGraceSeconds: 5, MaxStepVisits: maxStepVisits},
	}
	exec := &recordingExecutor{}
	clock := func() int64 { return 1000 }
	rt := New(state.New(), w, runbook.NewCache(), cfg, log, exec, clock)
	return rt, exec
}

func putRunbook(rt *Runtime, rb *runbook.Runbook) {
	rt.Runbooks.Put(rb)
}

// --- Scenario 1: happy path, single shell step ---

func TestScenarioHappyPathShellJob(t *testing.T) {
	rt, exec := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-happy",
		Jobs: map[string]runbook.Job{
			"build": {Steps: []runbook.Step{
				{Name: "run", Run: &runbook.RunTarget{Shell: "make build"}},
			}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})

	job := rt.State.Jobs[string(jobID)]
	require.NotNil(t, job)
	assert.Equal(t, "run", job.Step)
	assert.Equal(t, state.StepRunning, job.StepStatus.Phase)
	shells := exec.ofKind("Shell")
	require.Len(t, shells, 1)
	assert.Equal(t, "make build", shells[0].(effect.Shell).Command)

	rt.handle(ctx, &event.ShellExited{Owner: state.OwnerOfJob(job.ID).String(), Step: "run", ExitCode: 0})

	assert.Equal(t, "done", job.Step)
	assert.True(t, job.IsTerminal())
	require.Len(t, job.StepHistory, 1)
	assert.Equal(t, "run", job.StepHistory[0].Step)
	assert.Equal(t, state.StepCompleted, job.StepHistory[0].Outcome)
}

// --- Scenario 2: on_fail fallback, remediation runs but job stays failed ---

func TestScenarioOnFailFallbackStillFailed(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-fallback",
		Jobs: map[string]runbook.Job{
			"build": {Steps: []runbook.Step{
				{Name: "work", Run: &runbook.RunTarget{Shell: "exit 1"}, OnFail: "recover"},
				{Name: "recover", Run: &runbook.RunTarget{Shell: "echo recovered"}, OnDone: "failed"},
			}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	require.Equal(t, "work", job.Step)

	owner := state.OwnerOfJob(job.ID).String()
	rt.handle(ctx, &event.ShellExited{Owner: owner, Step: "work", ExitCode: 1, Stderr: "boom"})
	assert.Equal(t, "recover", job.Step)

	rt.handle(ctx, &event.ShellExited{Owner: owner, Step: "recover", ExitCode: 0})

	assert.Equal(t, "failed", job.Step)
	assert.NotEmpty(t, job.Error)
	require.Len(t, job.StepHistory, 3)
	assert.Equal(t, "work", job.StepHistory[0].Step)
	assert.Equal(t, state.StepFailed, job.StepHistory[0].Outcome)
	assert.Equal(t, "recover", job.StepHistory[1].Step)
	assert.Equal(t, state.StepCompleted, job.StepHistory[1].Outcome)
	assert.Equal(t, "recover", job.StepHistory[2].Step)
	assert.Equal(t, state.StepFailed, job.StepHistory[2].Outcome)
}

// --- Circuit breaker property ---

func TestCircuitBreakerTripsWithinVisitBound(t *testing.T) {
	const maxVisits = 3
	rt, _ := newTestRuntime(t, maxVisits)
	rb := &runbook.Runbook{
		Hash: "h-breaker",
		Jobs: map[string]runbook.Job{
			"loop": {Steps: []runbook.Step{
				{Name: "work", Run: &runbook.RunTarget{Shell: "exit 1"}, OnFail: "retry"},
				{Name: "retry", Run: &runbook.RunTarget{Shell: "exit 1"}, OnFail: "work"},
			}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "loop", Name: "loop", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	owner := state.OwnerOfJob(job.ID).String()

	bound := 2 * (maxVisits + 1)
	iterations := 0
	for !job.IsTerminal() && iterations < bound {
		step := job.Step
		rt.handle(ctx, &event.ShellExited{Owner: owner, Step: step, ExitCode: 1, Stderr: "fail"})
		iterations++
	}

	require.True(t, job.IsTerminal(), "job did not reach a terminal step within %d iterations", bound)
	assert.Equal(t, "failed", job.Step)
	assert.Contains(t, job.Error, "circuit breaker")
	assert.LessOrEqual(t, iterations, bound)
}

// --- Scenario 3: agent idle escalates, decision resolution unblocks the job ---

func TestScenarioAgentIdleEscalatesThenResolves(t *testing.T) {
	rt, exec := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-idle",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
			}},
		},
		Agents: map[string]runbook.Agent{
			"helper": {Kind: "helper-kind"},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	require.Equal(t, "ask", job.Step)
	require.Len(t, job.StepHistory, 1)
	require.Equal(t, "helper", job.StepHistory[0].AgentName)

	agentID := string(ids.NewAgentID())
	rt.handle(ctx, &event.AgentSpawned{
		AgentID: ids.AgentID(agentID), OwnerKind: "job", OwnerID: job.ID,
		AgentName: "helper", Project: "proj", WorkspacePath: job.WorkspacePath, Runtime: "coop",
	})
	assert.Equal(t, agentID, rt.currentStepAgent(job))

	rt.handle(ctx, &event.AgentWaiting{AgentID: ids.AgentID(agentID)})

	require.Equal(t, state.StepWaiting, job.StepStatus.Phase)
	require.NotEmpty(t, job.StepStatus.DecisionID)
	dec := rt.State.Decisions[job.StepStatus.DecisionID]
	require.NotNil(t, dec)
	assert.Equal(t, state.SourceIdle, dec.Source)
	assert.False(t, dec.Resolved)

	decisionID := dec.ID

	// A second identical idle ping is dominated: no new live decision,
	// the job stays Waiting on the same decision. The
	// escalation path still fires (a redundant Notify), since dominance
	// is only decided once the DecisionCreated event is applied.
	rt.handle(ctx, &event.AgentWaiting{AgentID: ids.AgentID(agentID)})
	liveCount := 0
	for _, d := range rt.State.Decisions {
		if d.Owner == state.OwnerOfJob(job.ID) && !d.Resolved && d.SupersededBy == "" {
			liveCount++
		}
	}
	assert.Equal(t, 1, liveCount)
	assert.Equal(t, decisionID, job.StepStatus.DecisionID)

	rt.handle(ctx, &event.DecisionResolve{ID: ids.DecisionID(decisionID), Choices: []string{"go ahead"}})

	assert.True(t, dec.Resolved)
	// Resolution transitions the owner out of Waiting in the same
	// handler step, and the answer is delivered as the agent's input.
	assert.Equal(t, state.StepRunning, job.StepStatus.Phase)
	sendEffects := exec.ofKind("SendToAgent")
	require.NotEmpty(t, sendEffects)
	last := sendEffects[len(sendEffects)-1].(effect.SendToAgent)
	assert.Equal(t, agentID, last.AgentID)
	assert.Equal(t, "go ahead", last.Input)

	rt.handle(ctx, &event.AgentWorking{AgentID: ids.AgentID(agentID)})
	assert.Equal(t, state.StepRunning, job.StepStatus.Phase)
}

// An agent that resumes working on its own while the step is Waiting
// flips the job back to Running and dismisses the parked decision.
func TestScenarioAgentResumesWhileWaiting(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-resume",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	agentID := ids.NewAgentID()
	rt.handle(ctx, &event.AgentSpawned{AgentID: agentID, OwnerKind: "job", OwnerID: job.ID, AgentName: "helper", Project: "proj", Runtime: "coop"})

	rt.handle(ctx, &event.AgentWaiting{AgentID: agentID})
	require.Equal(t, state.StepWaiting, job.StepStatus.Phase)
	decID := job.StepStatus.DecisionID

	rt.handle(ctx, &event.AgentWorking{AgentID: agentID})

	assert.Equal(t, state.StepRunning, job.StepStatus.Phase)
	assert.True(t, rt.State.Decisions[decID].Resolved, "the parked decision must not dangle once the agent resumed")
	assert.Empty(t, job.ActionAttempts)
}

// A more-specific Question prompt supersedes a pending Approval; the reverse is dropped.
func TestScenarioQuestionSupersedesApprovalNotViceVersa(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-prompt",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	agentID := ids.NewAgentID()
	rt.handle(ctx, &event.AgentSpawned{AgentID: agentID, OwnerKind: "job", OwnerID: job.ID, AgentName: "helper", Project: "proj", Runtime: "coop"})

	rt.handle(ctx, &event.AgentPrompt{AgentID: agentID, Type: event.PromptApproval, Context: "proceed?"})
	approvalDecID := job.StepStatus.DecisionID
	require.NotEmpty(t, approvalDecID)
	assert.Equal(t, state.SourceApproval, rt.State.Decisions[approvalDecID].Source)

	rt.handle(ctx, &event.AgentPrompt{AgentID: agentID, Type: event.PromptQuestion, Context: "which path?"})
	questionDecID := job.StepStatus.DecisionID
	require.NotEqual(t, approvalDecID, questionDecID)
	assert.Equal(t, state.SourceQuestion, rt.State.Decisions[questionDecID].Source)
	assert.Equal(t, questionDecID, rt.State.Decisions[approvalDecID].SupersededBy)

	// A fresh Approval cannot displace the live Question.
	rt.handle(ctx, &event.AgentPrompt{AgentID: agentID, Type: event.PromptApproval, Context: "proceed anyway?"})
	assert.Equal(t, questionDecID, job.StepStatus.DecisionID)
	assert.Empty(t, rt.State.Decisions[questionDecID].SupersededBy)
}

// A second Dead signal while a Dead decision is already pending is
// dropped outright: onDeathSignal returns nil, no event
// at all is produced for it.
func TestScenarioSecondDeathSignalWhileDeadPendingIsNoop(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-dead",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	agentID := ids.NewAgentID()
	rt.handle(ctx, &event.AgentSpawned{AgentID: agentID, OwnerKind: "job", OwnerID: job.ID, AgentName: "helper", Project: "proj", Runtime: "coop"})

	rt.handle(ctx, &event.AgentExited{AgentID: agentID, Code: 1})
	deadDecID := job.StepStatus.DecisionID
	require.NotEmpty(t, deadDecID)
	assert.Equal(t, state.SourceDead, rt.State.Decisions[deadDecID].Source)

	decisionsBefore := len(rt.State.Decisions)
	rt.handle(ctx, &event.AgentGone{AgentID: agentID})
	assert.Len(t, rt.State.Decisions, decisionsBefore)
	assert.Equal(t, deadDecID, job.StepStatus.DecisionID)
}

// --- Scenario 4: queue retry ---

func TestScenarioQueueRetryThenRedispatch(t *testing.T) {
	rt, exec := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-queue",
		Jobs: map[string]runbook.Job{
			"build": {Steps: []runbook.Step{
				{Name: "run", Run: &runbook.RunTarget{Shell: "exit 1"}},
			}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	rt.handle(ctx, &event.WorkerStarted{
		Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: rb.Hash,
		Concurrency: 2, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
		RetryAttempts: 3, RetryCooldown: "10s",
	})
	rt.handle(ctx, &event.QueuePushed{Queue: "bugs", Project: "proj", ItemID: "item-1", Data: map[string]string{}, PushedAt: 1000})

	key := state.ScopedName("proj", "bugs")
	item := rt.State.QueueItems[key]["item-1"]
	require.NotNil(t, item)
	assert.Equal(t, state.QueueItemTaken, item.Status)

	w := rt.State.Workers[state.ScopedName("proj", "fixer")]
	require.NotNil(t, w)
	var jobID string
	for ok := range w.Active {
		jobID = strings.TrimPrefix(ok, "job:")
	}
	require.NotEmpty(t, jobID)
	job := rt.State.Jobs[jobID]
	require.NotNil(t, job)
	require.Equal(t, "run", job.Step)
	require.Len(t, exec.ofKind("Shell"), 1, "dispatch should have fired the bound job's shell step")

	rt.handle(ctx, &event.ShellExited{Owner: state.OwnerOfJob(job.ID).String(), Step: "run", ExitCode: 1, Stderr: "boom"})

	assert.Equal(t, state.QueueItemFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)

	retryKey := string(ids.TimerKey("queue_retry", "proj", "bugs", "item-1"))
	_, armed := rt.timers.active[retryKey]
	assert.True(t, armed, "expected queue_retry timer to be armed")

	rt.handle(ctx, &event.TimerStart{ID: retryKey})

	// The retry flips the item back to pending with a fresh failure
	// budget, and the wake that follows redispatches it immediately.
	assert.Equal(t, state.QueueItemTaken, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, "fixer", item.Worker)
	assert.Len(t, exec.ofKind("Shell"), 2, "redispatch should have fired the bound job a second time")
}

// --- Scenario 5: orphan reconciliation on restart ---

func TestScenarioActiveOwnerSurvivesWorkerRestart(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-orphan",
		Jobs: map[string]runbook.Job{
			"build": {Steps: []runbook.Step{
				{Name: "run", Run: &runbook.RunTarget{Shell: "sleep 100"}},
			}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	rt.handle(ctx, &event.WorkerStarted{
		Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: rb.Hash,
		Concurrency: 2, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
		RetryAttempts: 3, RetryCooldown: "10s",
	})
	rt.handle(ctx, &event.QueuePushed{Queue: "bugs", Project: "proj", ItemID: "item-orphan", Data: map[string]string{}, PushedAt: 1000})

	w := rt.State.Workers[state.ScopedName("proj", "fixer")]
	require.NotNil(t, w)
	var ownerKey, jobID string
	for ok, itemID := range w.ItemMap {
		if itemID == "item-orphan" {
			ownerKey = ok
			jobID = strings.TrimPrefix(ok, "job:")
		}
	}
	require.NotEmpty(t, jobID)
	job := rt.State.Jobs[jobID]
	require.False(t, job.IsTerminal())

	rt.handle(ctx, &event.WorkerStopped{Name: "fixer", Project: "proj"})
	rt.handle(ctx, &event.WorkerStarted{
		Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: rb.Hash,
		Concurrency: 2, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
		RetryAttempts: 3, RetryCooldown: "10s",
	})

	item := rt.State.QueueItems[state.ScopedName("proj", "bugs")]["item-orphan"]
	assert.Equal(t, state.QueueItemTaken, item.Status, "an active owner's item must not be failed on restart")
	assert.True(t, w.Active[ownerKey])
	assert.Equal(t, "item-orphan", w.ItemMap[ownerKey])
}

// A gate action's exit status decides the step's fate: exit 0 advances
// the job, nonzero escalates with the trigger's Decision source.
func TestScenarioGateActionExitRouting(t *testing.T) {
	gateRunbook := func(hash string) *runbook.Runbook {
		return &runbook.Runbook{
			Hash: hash,
			Jobs: map[string]runbook.Job{
				"assist": {Steps: []runbook.Step{
					{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
				}},
			},
			Agents: map[string]runbook.Agent{
				"helper": {Kind: "helper-kind", OnIdle: []runbook.ActionConfig{{Action: "gate", Run: "check done"}}},
			},
		}
	}

	start := func(t *testing.T, rt *Runtime, hash string) (*state.Job, ids.AgentID) {
		t.Helper()
		ctx := context.Background()
		jobID := ids.NewJobID()
		rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: hash})
		job := rt.State.Jobs[string(jobID)]
		agentID := ids.NewAgentID()
		rt.handle(ctx, &event.AgentSpawned{AgentID: agentID, OwnerKind: "job", OwnerID: job.ID, AgentName: "helper", Project: "proj", Runtime: "coop"})
		return job, agentID
	}

	t.Run("exit zero advances", func(t *testing.T) {
		rt, exec := newTestRuntime(t, 5)
		putRunbook(rt, gateRunbook("h-gate-ok"))
		job, agentID := start(t, rt, "h-gate-ok")
		ctx := context.Background()

		rt.handle(ctx, &event.AgentWaiting{AgentID: agentID})
		shells := exec.ofKind("Shell")
		require.Len(t, shells, 1)
		gate := shells[0].(effect.Shell)
		assert.Equal(t, "check done", gate.Command)
		assert.Equal(t, "gate:idle", gate.Step)

		rt.handle(ctx, &event.ShellExited{Owner: gate.Owner, Step: gate.Step, ExitCode: 0})

		assert.Equal(t, "done", job.Step)
		assert.True(t, job.IsTerminal())
	})

	t.Run("nonzero escalates", func(t *testing.T) {
		rt, exec := newTestRuntime(t, 5)
		putRunbook(rt, gateRunbook("h-gate-fail"))
		job, agentID := start(t, rt, "h-gate-fail")
		ctx := context.Background()

		rt.handle(ctx, &event.AgentWaiting{AgentID: agentID})
		gate := exec.ofKind("Shell")[0].(effect.Shell)

		rt.handle(ctx, &event.ShellExited{Owner: gate.Owner, Step: gate.Step, ExitCode: 1, Stderr: "not done yet"})

		require.Equal(t, state.StepWaiting, job.StepStatus.Phase)
		dec := rt.State.Decisions[job.StepStatus.DecisionID]
		require.NotNil(t, dec)
		assert.Equal(t, state.SourceIdle, dec.Source)
	})
}

// An item stuck taken after a restart, whose owning job no longer
// exists, goes through the normal failure pass: retry cooldown while
// budget remains, dead letter once it is spent.
func TestScenarioOrphanedTakenItemFailsIntoRetry(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-orphan-fail",
		Jobs: map[string]runbook.Job{
			"build": {Steps: []runbook.Step{{Name: "run", Run: &runbook.RunTarget{Shell: "true"}}}},
		},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	// Pre-populate the stranded shape directly from events, as replay
	// would: pushed, taken, but the dispatch's job was never created.
	rt.handle(ctx, &event.WorkerStarted{
		Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: rb.Hash,
		Concurrency: 1, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
		RetryAttempts: 3, RetryCooldown: "10s",
	})
	state.Apply(rt.State, &event.QueuePushed{Queue: "bugs", Project: "proj", ItemID: "item-stuck", Data: map[string]string{}, PushedAt: 500}, 500)
	state.Apply(rt.State, &event.QueueTaken{Queue: "bugs", Project: "proj", ItemID: "item-stuck", Worker: "fixer"}, 500)

	rt.handle(ctx, &event.WorkerStarted{
		Name: "fixer", Project: "proj", ProjectPath: "/repo", RunbookHash: rb.Hash,
		Concurrency: 1, QueueName: "bugs", QueueType: "persisted", JobKind: "build",
		RetryAttempts: 3, RetryCooldown: "10s",
	})

	item := rt.State.QueueItems[state.ScopedName("proj", "bugs")]["item-stuck"]
	require.NotNil(t, item)
	assert.Equal(t, state.QueueItemFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
	retryKey := string(ids.TimerKey("queue_retry", "proj", "bugs", "item-stuck"))
	_, armed := rt.timers.active[retryKey]
	assert.True(t, armed, "orphaned item should be awaiting its retry cooldown")
}

// A suspended job keeps its workspace and can be resumed back onto the
// step it was interrupted at.
func TestScenarioSuspendKeepsWorkspaceAndResumes(t *testing.T) {
	rt, exec := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-suspend",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	require.NotEmpty(t, job.WorkspaceID)

	rt.handle(ctx, &event.JobSuspend{ID: jobID})

	assert.Equal(t, "suspended", job.Step)
	assert.Empty(t, exec.ofKind("DeleteWorkspace"), "a suspended job's workspace must survive for resume")

	rt.handle(ctx, &event.JobResume{ID: jobID})

	assert.Equal(t, "ask", job.Step)
	assert.Equal(t, state.StepRunning, job.StepStatus.Phase)
}

// Folding the WAL back into a fresh state must land on the same
// projection the live run produced: nothing observable may be mutated
// outside the apply path.
func TestReplayMatchesLiveState(t *testing.T) {
	rt, _ := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-replay",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}},
				{Name: "wrap", Run: &runbook.RunTarget{Shell: "echo ok"}},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	agentID := ids.NewAgentID()
	rt.handle(ctx, &event.AgentSpawned{AgentID: agentID, OwnerKind: "job", OwnerID: job.ID, AgentName: "helper", Project: "proj", WorkspacePath: job.WorkspacePath, Runtime: "coop"})
	rt.handle(ctx, &event.AgentWaiting{AgentID: agentID})
	decID := job.StepStatus.DecisionID
	rt.handle(ctx, &event.DecisionResolve{ID: ids.DecisionID(decID), Message: "carry on"})
	rt.handle(ctx, &event.AgentWorking{AgentID: agentID})
	rt.handle(ctx, &event.AgentSignal{AgentID: agentID, Kind_: event.SignalComplete})
	rt.handle(ctx, &event.ShellExited{Owner: state.OwnerOfJob(job.ID).String(), Step: "wrap", ExitCode: 0})
	require.Equal(t, "done", job.Step)

	replayed := state.New()
	err := wal.Replay(rt.WAL.Dir(), 0, func(env event.Envelope, ev event.Event) error {
		ReplayApply(replayed, env, ev)
		return nil
	})
	require.NoError(t, err)

	liveJob := rt.State.Jobs[string(jobID)]
	replayJob := replayed.Jobs[string(jobID)]
	require.NotNil(t, replayJob)
	assert.Equal(t, liveJob.Step, replayJob.Step)
	assert.Equal(t, liveJob.StepStatus, replayJob.StepStatus)
	assert.Equal(t, liveJob.StepHistory, replayJob.StepHistory)
	assert.Equal(t, liveJob.WorkspaceID, replayJob.WorkspaceID)
	assert.Equal(t, liveJob.WorkspacePath, replayJob.WorkspacePath)
	assert.Equal(t, rt.State.Decisions[decID].Resolved, replayed.Decisions[decID].Resolved)
	assert.Equal(t, len(rt.State.Workspaces), len(replayed.Workspaces))
}

// --- Scenario 6: cancel during cleanup reclaims the workspace ---

func TestScenarioCancelDuringCleanupDeletesWorkspace(t *testing.T) {
	rt, exec := newTestRuntime(t, 5)
	rb := &runbook.Runbook{
		Hash: "h-cancel",
		Jobs: map[string]runbook.Job{
			"assist": {Steps: []runbook.Step{
				{Name: "ask", Run: &runbook.RunTarget{Agent: "helper"}, OnCancel: "cleanup"},
				{Name: "cleanup", Run: &runbook.RunTarget{Shell: "rm -rf tmp"}, OnDone: "cancelled"},
			}},
		},
		Agents: map[string]runbook.Agent{"helper": {Kind: "helper-kind"}},
	}
	putRunbook(rt, rb)

	ctx := context.Background()
	jobID := ids.NewJobID()
	rt.handle(ctx, &event.JobCreated{ID: jobID, Kind_: "assist", Name: "assist", Project: "proj", Cwd: "/tmp", RunbookHash: rb.Hash})
	job := rt.State.Jobs[string(jobID)]
	require.NotEmpty(t, job.WorkspaceID)

	rt.handle(ctx, &event.JobCancel{ID: jobID})

	assert.True(t, job.Cancelling)
	assert.Equal(t, "cleanup", job.Step)

	rt.handle(ctx, &event.ShellExited{Owner: state.OwnerOfJob(job.ID).String(), Step: "cleanup", ExitCode: 0})

	assert.Equal(t, "cancelled", job.Step)
	assert.True(t, job.IsTerminal())

	deletes := exec.ofKind("DeleteWorkspace")
	require.Len(t, deletes, 1)
	assert.Equal(t, job.WorkspaceID, deletes[0].(effect.DeleteWorkspace).ID)
}
