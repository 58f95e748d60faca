package runtime

import (
	"path/filepath"
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
)

// livenessInterval and exitGrace come from config; both default to 5s.
func (rt *Runtime) livenessInterval() time.Duration {
	return time.Duration(rt.Cfg.Liveness.IntervalSeconds) * time.Second
}

func (rt *Runtime) exitGrace() time.Duration {
	return time.Duration(rt.Cfg.Liveness.ExitGraceSeconds) * time.Second
}

func (rt *Runtime) maxStepVisits() uint32 {
	if rt.Cfg.Liveness.MaxStepVisits <= 0 {
		return 5
	}
	return uint32(rt.Cfg.Liveness.MaxStepVisits)
}

// lookupJobRunbook returns the runbook and job definition for job,
// keyed by its pinned RunbookHash so a hot-reload never changes the
// behavior of an in-flight job.
func (rt *Runtime) lookupJobRunbook(job *state.Job) (runbook.Job, bool) {
	rb, ok := rt.Runbooks.Get(job.RunbookHash)
	if !ok {
		return runbook.Job{}, false
	}
	def, ok := rb.Jobs[job.KindName]
	return def, ok
}

// startStepEffects begins execution of job's current (non-terminal)
// step: marks it Running, arms the liveness timer for agent steps, and
// issues the Spawn/Shell effect the step's run-target names.
func (rt *Runtime) startStepEffects(job *state.Job, step runbook.Step) []effect.Effect {
	owner := state.OwnerOfJob(job.ID)
	effects := []effect.Effect{}

	switch step.Run.Kind() {
	case "agent":
		wsPath := job.WorkspacePath
		if job.WorkspaceID == "" {
			var provision []effect.Effect
			provision, wsPath = rt.provisionWorkspace(owner, job.Project, job.Cwd)
			effects = append(effects, provision...)
		}
		hostKind, agentRuntime, stopMode, prime := rt.resolveAgentSpawn(job.RunbookHash, step.Run.Agent)
		effects = append(effects,
			effect.Emit{Event: &event.StepStarted{JobID: ids.JobID(job.ID), Step: step.Name, AgentName: step.Run.Agent}},
			effect.SpawnAgent{
				OwnerKind: string(owner.Kind), OwnerID: owner.ID,
				AgentName: step.Run.Agent, HostKind: hostKind, Project: job.Project, Cwd: job.Cwd,
				WorkspacePath: wsPath, Runtime: agentRuntime,
				StopMode: stopMode, Prime: prime,
			},
			effect.SetTimer{ID: livenessTimerID(owner), Duration: rt.livenessInterval()},
		)
	case "job", "pipeline":
		// Sub-job/pipeline composition is not part of the core engine;
		// treat as an immediate failure so a misconfigured runbook
		// surfaces instead of hanging a step forever.
		effects = append(effects, effect.Emit{Event: &event.StepFailed{
			JobID: ids.JobID(job.ID), Step: step.Name, Error: "run target kind " + step.Run.Kind() + " not supported",
		}})
	default: // "shell"
		effects = append(effects,
			effect.Emit{Event: &event.StepStarted{JobID: ids.JobID(job.ID), Step: step.Name}},
			effect.Shell{Owner: owner.String(), Step: step.Name, Command: step.Run.Shell, Cwd: job.Cwd},
		)
	}
	return effects
}

// provisionWorkspace builds the effects for an owner's first workspace:
// WorkspaceCreated is emitted synchronously (so the owning job records
// its workspace id/path before the spawn effect runs), followed by the
// background CreateWorkspace provisioning. The precomputed path is
// returned so the caller can hand it to SpawnAgent without waiting on
// the event round-trip.
func (rt *Runtime) provisionWorkspace(owner state.Owner, project, cwd string) ([]effect.Effect, string) {
	wsID := ids.NewWorkspaceID()
	path := filepath.Join(rt.Cfg.StateDir, "workspaces", string(wsID))
	return []effect.Effect{
		effect.Emit{Event: &event.WorkspaceCreated{
			ID: wsID, Path: path, Owner: owner.String(), Type: "folder",
		}},
		effect.CreateWorkspace{
			ID: string(wsID), Path: path, Owner: owner.String(),
			Type: "folder", Project: project, Cwd: cwd,
		},
	}, path
}

// livenessTimerID and exitDeferredTimerID key the supervision timers by
// owner ("job:<id>" / "crew:<id>") so one decode path covers both.
func livenessTimerID(owner state.Owner) string {
	return string(ids.TimerKey("liveness", string(owner.Kind), owner.ID))
}

func exitDeferredTimerID(owner state.Owner) string {
	return string(ids.TimerKey("exit_deferred", string(owner.Kind), owner.ID))
}

// advanceJob resolves the next step for job after a success and emits
// the transition, applying the circuit breaker and the terminal-step
// fast paths. The on_done target defaults to the next step in
// declaration order, or "done" when the step is last.
func (rt *Runtime) advanceJob(job *state.Job, def runbook.Job, fromStep string) []effect.Effect {
	step, _ := def.ByName(fromStep)
	target := step.OnDone
	if target == "" {
		if next, has := def.Next(fromStep); has {
			target = next
		} else {
			target = "done"
		}
	}
	return rt.transitionTo(job, def, target)
}

// transitionTo is the shared "go to step X" path used by advanceJob,
// on_fail routing, and on_cancel routing: circuit breaker check, then
// either a terminal completion/failure or a StepStarted for the new
// step.
func (rt *Runtime) transitionTo(job *state.Job, def runbook.Job, target string) []effect.Effect {
	if state.IsTerminalStep(target) {
		return rt.terminalEffects(job, target, target)
	}
	if job.StepVisits[target] >= rt.maxStepVisits() {
		return rt.failureEffects(job, "circuit breaker")
	}
	step, ok := def.ByName(target)
	effects := []effect.Effect{effect.Emit{Event: &event.JobAdvanced{ID: ids.JobID(job.ID), Step: target}}}
	if !ok {
		return append(effects, rt.failureEffects(job, "unknown step "+target)...)
	}
	return append(effects, rt.startStepEffects(job, step)...)
}

// terminalEffects builds the completion/failure/cancellation effects for
// a transition directly into one of the four terminal steps: cancel the
// supervision timers, record the outcome, and kill the step's agent if
// one is still attached. reason is the StepFailed error text for
// non-"done" targets (distinct from the target name itself when a caller
// already knows the underlying cause).
func (rt *Runtime) terminalEffects(job *state.Job, target, reason string) []effect.Effect {
	owner := state.OwnerOfJob(job.ID)
	effects := []effect.Effect{
		effect.CancelTimer{ID: livenessTimerID(owner)},
		effect.CancelTimer{ID: exitDeferredTimerID(owner)},
		effect.Emit{Event: &event.JobAdvanced{ID: ids.JobID(job.ID), Step: target}},
	}
	switch target {
	case "done":
		effects = append(effects, effect.Emit{Event: &event.StepCompleted{JobID: ids.JobID(job.ID), Step: job.Step}})
	default:
		effects = append(effects, effect.Emit{Event: &event.StepFailed{JobID: ids.JobID(job.ID), Step: job.Step, Error: reason}})
	}
	if agentID := rt.currentStepAgent(job); agentID != "" {
		effects = append(effects, effect.KillAgent{AgentID: agentID})
	}
	return effects
}

// failureEffects marks job Failed outright without a transition step,
// used by the circuit breaker and unresolvable on_fail/on_cancel
// targets.
func (rt *Runtime) failureEffects(job *state.Job, reason string) []effect.Effect {
	return rt.terminalEffects(job, "failed", reason)
}

// failJob routes a failed step through its on_fail target (default
// "failed"). Attempt counters survive the transition so a retry budget
// bounds the whole failure cycle, not each step.
func (rt *Runtime) failJob(job *state.Job, def runbook.Job, failedStep, errMsg string) []effect.Effect {
	step, ok := def.ByName(failedStep)
	onFail := "failed"
	if ok && step.OnFail != "" {
		onFail = step.OnFail
	}
	// A terminal on_fail target folds the StepFailed record into
	// terminalEffects (which uses job.Step == failedStep); a non-terminal
	// cleanup target needs it recorded explicitly before the transition.
	if state.IsTerminalStep(onFail) {
		return rt.terminalEffects(job, onFail, errMsg)
	}
	effects := []effect.Effect{effect.Emit{Event: &event.StepFailed{JobID: ids.JobID(job.ID), Step: failedStep, Error: errMsg}}}
	return append(effects, rt.transitionTo(job, def, onFail)...)
}

// cancelJob routes job through its current step's on_cancel target, or
// straight to the terminal target ("cancelled"/"suspended") if none is
// defined.
func (rt *Runtime) cancelJob(job *state.Job, def runbook.Job, target string) []effect.Effect {
	step, ok := def.ByName(job.Step)
	if ok && step.OnCancel != "" {
		effects := []effect.Effect{effect.Emit{Event: &event.StepFailed{JobID: ids.JobID(job.ID), Step: job.Step, Error: target}}}
		return append(effects, rt.transitionTo(job, def, step.OnCancel)...)
	}
	return rt.terminalEffects(job, target, target)
}

// currentStepAgent returns the agent_id of the most recent step history
// entry for job's current step, whether or not that entry already has an
// outcome; empty when there is no such entry or it names no agent.
func (rt *Runtime) currentStepAgent(job *state.Job) string {
	for i := len(job.StepHistory) - 1; i >= 0; i-- {
		rec := job.StepHistory[i]
		if rec.Step != job.Step {
			continue
		}
		return rec.AgentID
	}
	return ""
}
