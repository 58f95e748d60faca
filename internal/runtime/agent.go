package runtime

import (
	"strings"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
	"github.com/ajlab/ojd/internal/supervision"
)

// ownerCtx is the handful of fields the supervision handlers need
// regardless of whether the agent belongs to a job step or a standalone
// crew; jobs and crews share the same supervision path and diverge only
// at completion/failure.
type ownerCtx struct {
	owner         state.Owner
	project       string
	cwd           string
	workspacePath string
	sessionID     string
	agentID       string
	agentName     string
	runbookHash   string
	// step is only meaningful for job owners.
	step string
}

// ownerContext resolves the owning job or crew for agentID into a
// uniform ownerCtx, or false if the agent is unknown (already reaped).
func (rt *Runtime) ownerContext(agentID string) (ownerCtx, bool) {
	rec := rt.State.Agents[agentID]
	if rec == nil {
		return ownerCtx{}, false
	}
	switch rec.Owner.Kind {
	case state.OwnerKindJob:
		job := rt.State.Jobs[rec.Owner.ID]
		if job == nil {
			return ownerCtx{}, false
		}
		return ownerCtx{
			owner: rec.Owner, project: job.Project, cwd: job.Cwd,
			workspacePath: job.WorkspacePath, sessionID: job.SessionID,
			agentID: agentID, agentName: rec.AgentName, runbookHash: job.RunbookHash,
			step: job.Step,
		}, true
	case state.OwnerKindCrew:
		crew := rt.State.Crew[rec.Owner.ID]
		if crew == nil {
			return ownerCtx{}, false
		}
		return ownerCtx{
			owner: rec.Owner, project: crew.Project, cwd: crew.Cwd,
			workspacePath: rec.WorkspacePath, sessionID: rec.SessionID,
			agentID: agentID, agentName: rec.AgentName, runbookHash: crew.RunbookHash,
		}, true
	default:
		return ownerCtx{}, false
	}
}

// currentAgentID returns the agent id the owner's current step/run
// considers authoritative, for the stale-agent guard: events from an
// agent that is no longer the current step's agent are dropped.
func (rt *Runtime) currentAgentID(owner state.Owner) string {
	switch owner.Kind {
	case state.OwnerKindJob:
		if job := rt.State.Jobs[owner.ID]; job != nil {
			return rt.currentStepAgent(job)
		}
	case state.OwnerKindCrew:
		if crew := rt.State.Crew[owner.ID]; crew != nil {
			return crew.AgentID
		}
	}
	return ""
}

// attemptsMapOf returns the mutable ActionAttempts map for owner so
// supervision.NextAction's budget bookkeeping can be recorded directly.
// Like the cooldown set, these counters are runtime-tracked rather than
// event-sourced: a restart that rebuilds state from the WAL alone resets
// action budgets (a snapshot keeps the counts it captured), which at
// worst lets one exhausted chain run once more.
func (rt *Runtime) attemptsMapOf(owner state.Owner) map[string]int {
	switch owner.Kind {
	case state.OwnerKindJob:
		if job := rt.State.Jobs[owner.ID]; job != nil {
			return job.ActionAttempts
		}
	case state.OwnerKindCrew:
		if crew := rt.State.Crew[owner.ID]; crew != nil {
			return crew.ActionAttempts
		}
	}
	return map[string]int{}
}

func (rt *Runtime) agentDefFor(oc ownerCtx) (runbook.Agent, bool) {
	rb, ok := rt.Runbooks.Get(oc.runbookHash)
	if !ok {
		return runbook.Agent{}, false
	}
	def, ok := rb.Agents[oc.agentName]
	return def, ok
}

func chainFor(def runbook.Agent, trigger string) []runbook.ActionConfig {
	switch trigger {
	case "idle":
		return def.OnIdle
	case "dead":
		return def.OnDead
	case "approval":
		return def.OnApproval
	default:
		return nil
	}
}

// onAgentWaiting is the "idle" trigger: a turn that ended with text but
// no tool calls. (The opposite transition, an agent resuming work while
// its owner is Waiting, carries no follow-on effects: state.Apply moves
// the owner back to Running and dismisses the parked decision when it
// folds the AgentWorking/Continue event in.)
func (rt *Runtime) onAgentWaiting(e *event.AgentWaiting, nowMs int64) []effect.Effect {
	return rt.onTrigger(string(e.AgentID), "idle", state.SourceIdle, "", nil, nowMs)
}

// onAgentPrompt is the "approval" trigger; the Decision source it may
// create tracks the prompt's own type (Question/Plan outrank Approval
// for supersession).
func (rt *Runtime) onAgentPrompt(e *event.AgentPrompt, nowMs int64) []effect.Effect {
	source := state.DecisionSource(supervision.PromptSource(string(e.Type)))
	return rt.onTrigger(string(e.AgentID), "approval", source, e.Context, e.Options, nowMs)
}

// onAgentExited and onAgentGone are both "dead" signals. An Exited while
// an Idle decision is pending auto-dismisses it and proceeds with death
// handling; a second Dead signal while a Dead decision is already
// pending is dropped entirely.
func (rt *Runtime) onAgentExited(e *event.AgentExited, nowMs int64) []effect.Effect {
	return rt.onDeathSignal(string(e.AgentID), nowMs)
}

func (rt *Runtime) onAgentGone(e *event.AgentGone, nowMs int64) []effect.Effect {
	return rt.onDeathSignal(string(e.AgentID), nowMs)
}

func (rt *Runtime) onDeathSignal(agentID string, nowMs int64) []effect.Effect {
	oc, ok := rt.ownerContext(agentID)
	if !ok || rt.currentAgentID(oc.owner) != agentID {
		return nil
	}
	if pending := state.UnresolvedDecisionFor(rt.State, oc.owner); pending != nil {
		if pending.Source == state.SourceDead {
			return nil // a second Dead signal while a Dead decision is pending is dropped
		}
		if pending.Source == state.SourceIdle {
			// Auto-dismiss the Idle decision and proceed with
			// dead-handling. Resolution happens via an event so replay
			// sees the same dismissal.
			effects := []effect.Effect{effect.Emit{Event: &event.DecisionResolved{
				ID: ids.DecisionID(pending.ID), Message: "auto-dismissed: agent exited", ResolvedAtMs: nowMs,
			}}}
			return append(effects, rt.onTrigger(agentID, "dead", state.SourceDead, "", nil, nowMs)...)
		}
	}
	return rt.onTrigger(agentID, "dead", state.SourceDead, "", nil, nowMs)
}

// onTrigger is the shared idle/dead/approval policy path: look up the
// runbook chain, resolve the next action by attempt budget, and emit
// that action's effects. Escalation (chain exhausted, or no chain
// configured) creates a Decision and sets the owner Waiting.
func (rt *Runtime) onTrigger(agentID, trigger string, escalateSource state.DecisionSource, context string, options []string, nowMs int64) []effect.Effect {
	oc, ok := rt.ownerContext(agentID)
	if !ok || rt.currentAgentID(oc.owner) != agentID {
		return nil
	}
	// Dedup/supersession by specificity is not decided here: escalate
	// always emits DecisionCreated, and state.applyDecisionEvent decides
	// whether it actually creates a new live decision or is dropped as
	// dominated by one already pending. Gating it here on "any decision
	// pending" would make a more-specific prompt (Question/Plan)
	// arriving while a pending Approval is live unreachable, instead of
	// correctly superseding it.
	cdKey := cooldownKey(oc.owner, trigger)
	if rt.cooldowns[cdKey] {
		return nil
	}

	def, _ := rt.agentDefFor(oc)
	chain := chainFor(def, trigger)
	attempts := rt.attemptsMapOf(oc.owner)

	resolved, ok := supervision.NextAction(trigger, chain, attempts)
	if !ok {
		return rt.escalate(oc, escalateSource, context, options, nowMs)
	}
	attempts[resolved.AttemptKey]++
	effects := rt.applyAction(oc, resolved.Action, trigger, escalateSource, context, options, nowMs)
	if resolved.Action.Cooldown != "" {
		rt.cooldowns[cdKey] = true
		effects = append(effects, effect.SetTimer{ID: string(ids.TimerKey("cooldown", string(oc.owner.Kind), oc.owner.ID, trigger)), Duration: parseInterval(resolved.Action.Cooldown)})
	}
	return effects
}

// cooldownKey builds the runtime-local suppression key for owner+trigger.
func cooldownKey(owner state.Owner, trigger string) string {
	return string(owner.Kind) + ":" + owner.ID + ":" + trigger
}

func (rt *Runtime) applyAction(oc ownerCtx, ac runbook.ActionConfig, trigger string, escalateSource state.DecisionSource, context string, options []string, nowMs int64) []effect.Effect {
	switch ac.Action {
	case "done":
		return rt.completeOwner(oc)
	case "fail":
		return rt.failOwner(oc, "on_dead/on_idle policy: fail")
	case "nudge":
		msg := ac.Message
		if msg == "" {
			msg = "continue"
		}
		return []effect.Effect{effect.SendToAgent{AgentID: oc.agentID, Input: msg}}
	case "gate":
		// The trigger rides in the step name so the exit handler knows
		// which Decision source to escalate with on a nonzero exit.
		return []effect.Effect{effect.Shell{Owner: oc.owner.String(), Step: "gate:" + trigger, Command: ac.Run, Cwd: oc.cwd}}
	case "resume":
		hostKind, agentRuntime, stopMode, prime := rt.resolveAgentSpawn(oc.runbookHash, oc.agentName)
		return []effect.Effect{
			effect.KillAgent{AgentID: oc.agentID},
			effect.SpawnAgent{
				OwnerKind: string(oc.owner.Kind), OwnerID: oc.owner.ID,
				AgentName: oc.agentName, HostKind: hostKind, Project: oc.project, Cwd: oc.cwd,
				WorkspacePath: oc.workspacePath, Runtime: agentRuntime,
				Resume:   &effect.ResumeHint{WorkspacePath: oc.workspacePath, SessionID: oc.sessionID},
				StopMode: stopMode, Prime: prime,
			},
		}
	case "escalate":
		return rt.escalate(oc, escalateSource, context, options, nowMs)
	default:
		return rt.escalate(oc, escalateSource, context, options, nowMs)
	}
}

// escalate always emits DecisionCreated; it never decides for itself
// whether this owner ends up with a new live decision. That call belongs
// to state.applyDecisionEvent, which runs once this event is folded in
// and knows about every other decision already pending for this owner.
// The owner's Waiting transition happens there too, atomically with the
// decision that causes it, so a dropped/dominated decision never flips
// the owner to Waiting.
func (rt *Runtime) escalate(oc ownerCtx, source state.DecisionSource, context string, options []string, nowMs int64) []effect.Effect {
	decID := ids.NewDecisionID()
	return []effect.Effect{
		effect.Emit{Event: &event.DecisionCreated{
			ID: decID, AgentID: oc.agentID, OwnerKind: string(oc.owner.Kind), OwnerID: oc.owner.ID,
			Source: string(source), Context: context, Options: options, CreatedAtMs: nowMs, Project: oc.project,
		}},
		effect.Notify{Title: "ojd: input needed", Message: context},
	}
}

func (rt *Runtime) completeOwner(oc ownerCtx) []effect.Effect {
	switch oc.owner.Kind {
	case state.OwnerKindJob:
		job := rt.State.Jobs[oc.owner.ID]
		def, ok := rt.lookupJobRunbook(job)
		if !ok {
			return rt.failureEffects(job, "runbook job definition not found")
		}
		return append([]effect.Effect{effect.Emit{Event: &event.StepCompleted{JobID: ids.JobID(job.ID), Step: job.Step}}}, rt.advanceJob(job, def, job.Step)...)
	case state.OwnerKindCrew:
		return []effect.Effect{
			effect.CancelTimer{ID: livenessTimerID(oc.owner)},
			effect.CancelTimer{ID: exitDeferredTimerID(oc.owner)},
			effect.KillAgent{AgentID: oc.agentID},
			effect.Emit{Event: &event.CrewUpdated{ID: ids.CrewID(oc.owner.ID), Status: string(state.CrewCompleted)}},
		}
	}
	return nil
}

func (rt *Runtime) failOwner(oc ownerCtx, reason string) []effect.Effect {
	switch oc.owner.Kind {
	case state.OwnerKindJob:
		job := rt.State.Jobs[oc.owner.ID]
		def, ok := rt.lookupJobRunbook(job)
		if !ok {
			return rt.failureEffects(job, "runbook job definition not found")
		}
		return rt.failJob(job, def, job.Step, reason)
	case state.OwnerKindCrew:
		return []effect.Effect{
			effect.CancelTimer{ID: livenessTimerID(oc.owner)},
			effect.CancelTimer{ID: exitDeferredTimerID(oc.owner)},
			effect.KillAgent{AgentID: oc.agentID},
			effect.Emit{Event: &event.CrewUpdated{ID: ids.CrewID(oc.owner.ID), Status: string(state.CrewFailed), Reason: reason}},
		}
	}
	return nil
}

// onAgentSignal handles the in-band continue/complete/escalate markers.
// Complete is authoritative: it advances the owner even if a gate had
// left the step Waiting. Escalate always creates a Question decision.
// Continue carries no follow-on effects here; state.Apply already moved
// a Waiting owner back to Running when it folded the signal in.
func (rt *Runtime) onAgentSignal(e *event.AgentSignal, nowMs int64) []effect.Effect {
	oc, ok := rt.ownerContext(string(e.AgentID))
	if !ok || rt.currentAgentID(oc.owner) != string(e.AgentID) {
		return nil
	}
	switch e.Kind_ {
	case event.SignalComplete:
		return rt.completeOwner(oc)
	case event.SignalEscalate:
		return rt.escalate(oc, state.SourceQuestion, e.Message, nil, nowMs)
	default:
		return nil
	}
}

// onGateShellExited routes a gate action's exit status: success advances
// the owner the same way a "done" action would; failure escalates with
// the Decision source matching the trigger that ran the gate.
func (rt *Runtime) onGateShellExited(e *event.ShellExited, nowMs int64) []effect.Effect {
	trigger := strings.TrimPrefix(e.Step, "gate:")
	owner := parseOwnerString(e.Owner)
	agentID := rt.currentAgentID(owner)
	oc, ok := rt.ownerContext(agentID)
	if !ok || oc.owner != owner {
		return nil
	}
	if e.ExitCode == 0 {
		return rt.completeOwner(oc)
	}
	context := e.Stderr
	if context == "" {
		context = "gate command failed"
	}
	return rt.escalate(oc, gateEscalateSource(trigger), context, nil, nowMs)
}

func gateEscalateSource(trigger string) state.DecisionSource {
	switch trigger {
	case "dead":
		return state.SourceDead
	case "approval":
		return state.SourceApproval
	default:
		return state.SourceIdle
	}
}

// onAgentSpawnFailed routes a failed deferred spawn back through the
// owner's normal failure path.
func (rt *Runtime) onAgentSpawnFailed(e *event.AgentSpawnFailed) []effect.Effect {
	owner := ownerFromKindID(e.OwnerKind, e.OwnerID)
	switch owner.Kind {
	case state.OwnerKindJob:
		job := rt.State.Jobs[owner.ID]
		if job == nil {
			return nil
		}
		def, ok := rt.lookupJobRunbook(job)
		if !ok {
			return rt.failureEffects(job, "runbook job definition not found")
		}
		return rt.failJob(job, def, job.Step, "agent spawn failed: "+e.Reason)
	case state.OwnerKindCrew:
		// No agent was ever spawned, so there's nothing for KillAgent to
		// reach; go straight to CrewUpdated{Failed} instead of failOwner.
		return []effect.Effect{effect.Emit{Event: &event.CrewUpdated{
			ID: ids.CrewID(owner.ID), Status: string(state.CrewFailed), Reason: "agent spawn failed: " + e.Reason,
		}}}
	}
	return nil
}

func ownerFromKindID(kind, id string) state.Owner {
	return state.Owner{Kind: state.OwnerKind(kind), ID: id}
}

// resolveAgentSpawn looks up agentName's runbook.Agent definition under
// runbookHash and derives the three fields the executor's spawn
// sequence needs but can't safely compute itself (it never reads
// MaterializedState or the runbook cache outside the single-writer
// loop): the agent-host --agent kind, the runtime the host process runs
// under (coop subprocess by default, docker/k8s when the agent declares
// one), the stop mode derived from on_idle (done/fail -> allow,
// nudge/gate/resume/escalate -> gate, auto -> auto), and an optional
// start prime.
func (rt *Runtime) resolveAgentSpawn(runbookHash, agentName string) (hostKind, agentRuntime, stopMode, prime string) {
	rb, ok := rt.Runbooks.Get(runbookHash)
	if !ok {
		return agentName, "coop", "gate", ""
	}
	def, ok := rb.Agents[agentName]
	if !ok {
		return agentName, "coop", "gate", ""
	}
	runtime := def.Runtime
	if runtime == "" {
		runtime = "coop"
	}
	return def.Kind, runtime, deriveStopMode(def.OnIdle), def.Start
}

func deriveStopMode(onIdle []runbook.ActionConfig) string {
	if len(onIdle) == 0 {
		return "allow"
	}
	switch onIdle[0].Action {
	case "done", "fail":
		return "allow"
	case "auto":
		return "auto"
	default: // nudge, gate, resume, escalate
		return "gate"
	}
}
