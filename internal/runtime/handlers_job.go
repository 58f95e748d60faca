package runtime

import (
	"strings"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/state"
)

// onJobCreated starts the first step of a freshly created job.
func (rt *Runtime) onJobCreated(e *event.JobCreated) []effect.Effect {
	job := rt.State.Jobs[string(e.ID)]
	if job == nil {
		return nil
	}
	def, ok := rt.lookupJobRunbook(job)
	if !ok || len(def.Steps) == 0 {
		return rt.failureEffects(job, "runbook job definition not found")
	}
	return rt.transitionTo(job, def, def.Steps[0].Name)
}

// onShellExited routes a shell step's exit code through advance/fail:
// exit 0 advances the job, nonzero routes through on_fail. Gate-action
// shells and cron shell firings are recognized by their step/owner tags
// and handled on their own paths.
func (rt *Runtime) onShellExited(e *event.ShellExited, nowMs int64) []effect.Effect {
	if strings.HasPrefix(e.Owner, "cron:") {
		return nil // slot release happened in state.Apply; nothing to dispatch
	}
	if strings.HasPrefix(e.Step, "gate:") {
		return rt.onGateShellExited(e, nowMs)
	}
	owner := parseOwnerString(e.Owner)
	if owner.Kind != state.OwnerKindJob {
		return nil // a crew runs no plain shell steps of its own
	}
	job := rt.State.Jobs[owner.ID]
	if job == nil || job.Step != e.Step {
		return nil // stale exit for a step the job has already left
	}
	def, ok := rt.lookupJobRunbook(job)
	if !ok {
		return rt.failureEffects(job, "runbook job definition not found")
	}
	if e.ExitCode == 0 {
		effects := []effect.Effect{effect.Emit{Event: &event.StepCompleted{JobID: ids.JobID(job.ID), Step: e.Step}}}
		return append(effects, rt.advanceJob(job, def, e.Step)...)
	}
	return rt.failJob(job, def, e.Step, e.Stderr)
}

// onJobResume resets a terminal-failed (or suspended) job to its last
// failed step. For a job waiting on an agent step it requires a message:
// with Kill set it respawns the agent with the agent-host's resume hint,
// otherwise it sends the message to the current agent. A waiting shell
// step is re-run.
func (rt *Runtime) onJobResume(e *event.JobResume) []effect.Effect {
	job := rt.State.Jobs[string(e.ID)]
	if job == nil {
		return nil
	}
	def, ok := rt.lookupJobRunbook(job)
	if !ok {
		return nil
	}
	if job.Step == "failed" || job.Step == "suspended" {
		lastStep := lastFailedStep(job)
		if lastStep == "" {
			return nil
		}
		return rt.transitionTo(job, def, lastStep)
	}

	if job.StepStatus.Phase != state.StepWaiting {
		return nil
	}
	step, ok := def.ByName(job.Step)
	if !ok {
		return nil
	}
	if step.Run.Kind() == "agent" {
		if e.Message == "" {
			// Refused, not failed: a resume without input for a waiting
			// agent should leave the job exactly as it was. The listener
			// rejects this shape up front; this guards replays and races.
			return nil
		}
		if e.Kill {
			owner := state.OwnerOfJob(job.ID)
			hostKind, agentRuntime, stopMode, prime := rt.resolveAgentSpawn(job.RunbookHash, step.Run.Agent)
			return []effect.Effect{
				effect.SpawnAgent{
					OwnerKind: string(owner.Kind), OwnerID: owner.ID,
					AgentName: step.Run.Agent, HostKind: hostKind, Project: job.Project, Cwd: job.Cwd,
					WorkspacePath: job.WorkspacePath, Runtime: agentRuntime,
					Resume:   &effect.ResumeHint{WorkspacePath: job.WorkspacePath, SessionID: job.SessionID},
					StopMode: stopMode, Prime: prime,
				},
			}
		}
		return []effect.Effect{effect.SendToAgent{AgentID: rt.currentStepAgent(job), Input: e.Message}}
	}
	return []effect.Effect{effect.Shell{Owner: state.OwnerOfJob(job.ID).String(), Step: job.Step, Command: step.Run.Shell, Cwd: job.Cwd}}
}

// onJobCancel/onJobSuspend record the request, then run the step's
// on_cancel cleanup if defined, otherwise transition straight to the
// terminal step.
func (rt *Runtime) onJobCancel(e *event.JobCancel) []effect.Effect {
	job := rt.State.Jobs[string(e.ID)]
	if job == nil || job.IsTerminal() {
		return nil
	}
	def, ok := rt.lookupJobRunbook(job)
	if !ok {
		return rt.failureEffects(job, "runbook job definition not found")
	}
	effects := []effect.Effect{effect.Emit{Event: &event.JobCancelling{ID: e.ID}}}
	return append(effects, rt.cancelJob(job, def, "cancelled")...)
}

func (rt *Runtime) onJobSuspend(e *event.JobSuspend) []effect.Effect {
	job := rt.State.Jobs[string(e.ID)]
	if job == nil || job.IsTerminal() {
		return nil
	}
	def, ok := rt.lookupJobRunbook(job)
	if !ok {
		return rt.failureEffects(job, "runbook job definition not found")
	}
	effects := []effect.Effect{effect.Emit{Event: &event.JobSuspending{ID: e.ID}}}
	return append(effects, rt.cancelJob(job, def, "suspended")...)
}

// onJobAdvancedSideEffects runs cross-package bookkeeping once a job
// goes terminal: worker completion hand-off (retry arming, dead-letter)
// and reclaiming the job's workspace. A suspended job keeps its
// workspace so a later resume finds the agent's working tree intact.
func (rt *Runtime) onJobAdvancedSideEffects(e *event.JobAdvanced) []effect.Effect {
	job := rt.State.Jobs[string(e.ID)]
	if job == nil || !job.IsTerminal() {
		return nil
	}
	var effects []effect.Effect
	effects = append(effects, rt.onWorkerOwnedJobTerminal(job)...)
	if job.WorkspaceID != "" && job.Step != "suspended" {
		effects = append(effects, effect.Emit{Event: &event.WorkspaceCleaning{ID: ids.WorkspaceID(job.WorkspaceID)}})
	}
	return effects
}

// onWorkspaceCleaning issues the background removal for a workspace that
// state.Apply just marked Cleaning.
func (rt *Runtime) onWorkspaceCleaning(e *event.WorkspaceCleaning) []effect.Effect {
	ws := rt.State.Workspaces[string(e.ID)]
	if ws == nil || ws.Status == state.WorkspaceDeleted {
		return nil
	}
	return []effect.Effect{effect.DeleteWorkspace{ID: ws.ID, Path: ws.Path}}
}

func lastFailedStep(job *state.Job) string {
	for i := len(job.StepHistory) - 1; i >= 0; i-- {
		if job.StepHistory[i].Outcome == state.StepFailed {
			return job.StepHistory[i].Step
		}
	}
	return ""
}

func parseOwnerString(s string) state.Owner {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return state.Owner{Kind: state.OwnerKind(s[:i]), ID: s[i+1:]}
		}
	}
	return state.Owner{Kind: state.OwnerKindJob, ID: s}
}
