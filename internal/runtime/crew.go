package runtime

import (
	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/state"
)

// onCrewCreated starts a standalone agent run: provision a workspace
// the same way a job's first agent step does, then issue the deferred
// spawn. A crew is effectively a job with one agent step and no runbook
// job kind.
func (rt *Runtime) onCrewCreated(e *event.CrewCreated) []effect.Effect {
	crew := rt.State.Crew[string(e.ID)]
	if crew == nil {
		return nil
	}
	owner := state.OwnerOfCrew(crew.ID)
	effects, path := rt.provisionWorkspace(owner, crew.Project, crew.Cwd)
	hostKind, agentRuntime, stopMode, prime := rt.resolveAgentSpawn(crew.RunbookHash, crew.AgentName)
	return append(effects,
		effect.SpawnAgent{
			OwnerKind: string(owner.Kind), OwnerID: owner.ID,
			AgentName: crew.AgentName, HostKind: hostKind, Project: crew.Project, Cwd: crew.Cwd,
			WorkspacePath: path, Runtime: agentRuntime,
			StopMode: stopMode, Prime: prime,
		},
	)
}

// onAgentSpawned reacts to a successful deferred spawn for a crew owner
// by recording the agent against the crew via CrewStarted and arming the
// crew's liveness timer (job owners need no reaction here: their AgentID
// was already backfilled into StepHistory by state.applyAgentEvent, and
// their liveness timer was armed when the step started).
func (rt *Runtime) onAgentSpawned(e *event.AgentSpawned) []effect.Effect {
	if e.OwnerKind != string(state.OwnerKindCrew) {
		return nil
	}
	crew := rt.State.Crew[e.OwnerID]
	if crew == nil || crew.AgentID != "" {
		return nil // already started, or crew torn down before spawn resolved
	}
	owner := state.OwnerOfCrew(crew.ID)
	return []effect.Effect{
		effect.Emit{Event: &event.CrewStarted{ID: ids.CrewID(crew.ID), AgentID: e.AgentID}},
		effect.SetTimer{ID: livenessTimerID(owner), Duration: rt.livenessInterval()},
	}
}

// onCrewUpdated reclaims a terminal crew's workspace and stops its
// supervision timers. CrewUpdated can arrive from supervision actions,
// spawn failures, or an operator kill; the timer cancels are idempotent
// so overlapping paths are harmless.
func (rt *Runtime) onCrewUpdated(e *event.CrewUpdated) []effect.Effect {
	crew := rt.State.Crew[string(e.ID)]
	if crew == nil || !crew.Status.IsTerminal() {
		return nil
	}
	owner := state.OwnerOfCrew(crew.ID)
	effects := []effect.Effect{
		effect.CancelTimer{ID: livenessTimerID(owner)},
		effect.CancelTimer{ID: exitDeferredTimerID(owner)},
	}
	for _, ws := range rt.State.Workspaces {
		if ws.Owner == owner && ws.Status != state.WorkspaceDeleted && ws.Status != state.WorkspaceCleaning {
			effects = append(effects, effect.Emit{Event: &event.WorkspaceCleaning{ID: ids.WorkspaceID(ws.ID)}})
		}
	}
	return effects
}

// onWorkspaceFailed fails the owning job or crew: a step/crew that
// can't get a workspace can't run its agent.
func (rt *Runtime) onWorkspaceFailed(e *event.WorkspaceFailed) []effect.Effect {
	ws := rt.State.Workspaces[string(e.ID)]
	if ws == nil {
		return nil
	}
	switch ws.Owner.Kind {
	case state.OwnerKindJob:
		job := rt.State.Jobs[ws.Owner.ID]
		if job == nil || job.IsTerminal() {
			return nil
		}
		def, ok := rt.lookupJobRunbook(job)
		if !ok {
			return rt.failureEffects(job, "runbook job definition not found")
		}
		return rt.failJob(job, def, job.Step, "workspace provisioning failed: "+e.Reason)
	case state.OwnerKindCrew:
		crew := rt.State.Crew[ws.Owner.ID]
		if crew == nil || crew.Status.IsTerminal() {
			return nil
		}
		return []effect.Effect{effect.Emit{Event: &event.CrewUpdated{
			ID: ids.CrewID(crew.ID), Status: string(state.CrewFailed), Reason: "workspace provisioning failed: " + e.Reason,
		}}}
	}
	return nil
}
