package runtime

import (
	"strings"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
)

// onTimerStart decodes the fired TimerId's kind tag and routes it to the
// handler that owns that concern.
func (rt *Runtime) onTimerStart(e *event.TimerStart, nowMs int64) []effect.Effect {
	kind, rest := ids.ParseTimerKind(e.ID)
	switch event.TimerKind(kind) {
	case event.TimerLiveness:
		return rt.onLivenessTimer(rest, nowMs)
	case event.TimerExitDeferred:
		return rt.onExitDeferredTimer(rest, nowMs)
	case event.TimerCooldown:
		delete(rt.cooldowns, rest)
		return nil
	case event.TimerQueueRetry:
		return rt.onQueueRetryTimer(rest)
	case event.TimerCron:
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return nil
		}
		return rt.fireCron(parts[0], parts[1], nowMs)
	case event.TimerQueuePoll:
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return nil
		}
		return rt.onQueuePollTimer(parts[0], parts[1])
	default:
		return nil
	}
}

// onLivenessTimer re-arms itself while the owner's agent looks alive;
// once the agent has exited/gone/failed it switches to the shorter
// exit_deferred grace timer instead of declaring death immediately, so
// a final in-flight event has a chance to land first. The timer id's
// remainder is the owner key ("job:<id>" / "crew:<id>"), covering both
// job steps and standalone crews with one decode path.
func (rt *Runtime) onLivenessTimer(ownerKey string, nowMs int64) []effect.Effect {
	owner := parseOwnerString(ownerKey)
	if !rt.ownerStillActive(owner.String()) {
		return nil
	}
	agentID := rt.currentAgentID(owner)
	if agentID == "" {
		return nil
	}
	rec := rt.State.Agents[agentID]
	if rec == nil {
		return nil
	}
	switch rec.Status {
	case state.AgentExited, state.AgentGone, state.AgentFailed:
		return []effect.Effect{effect.SetTimer{
			ID: exitDeferredTimerID(owner), Duration: rt.exitGrace(),
		}}
	default:
		return []effect.Effect{effect.SetTimer{
			ID: livenessTimerID(owner), Duration: rt.livenessInterval(),
		}}
	}
}

// onExitDeferredTimer is the grace timer's expiry: the agent is still
// dead, so drive the normal dead-signal policy chain.
func (rt *Runtime) onExitDeferredTimer(ownerKey string, nowMs int64) []effect.Effect {
	owner := parseOwnerString(ownerKey)
	if !rt.ownerStillActive(owner.String()) {
		return nil
	}
	agentID := rt.currentAgentID(owner)
	if agentID == "" {
		return nil
	}
	return rt.onDeathSignal(agentID, nowMs)
}

// onQueueRetryTimer is a failed queue item's cooldown expiry: flip it
// back to pending. The QueueItemRetry dispatch wakes the bound workers.
func (rt *Runtime) onQueueRetryTimer(rest string) []effect.Effect {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return nil
	}
	project, queue, itemID := parts[0], parts[1], parts[2]
	items := rt.State.QueueItems[state.ScopedName(project, queue)]
	item := items[itemID]
	if item == nil || item.Status != state.QueueItemFailed {
		return nil // already retried, dead-lettered, or dropped
	}
	return []effect.Effect{effect.Emit{Event: &event.QueueItemRetry{Queue: queue, Project: project, ItemID: itemID}}}
}

// onQueuePollTimer fires an external worker's list command; the poll
// timer itself is re-armed from onWorkerPollComplete once results land,
// so a slow list command can't overlap with itself.
func (rt *Runtime) onQueuePollTimer(project, workerName string) []effect.Effect {
	w := rt.State.Workers[state.ScopedName(project, workerName)]
	if w == nil || w.Status != state.WorkerRunning || w.QueueType != string(runbook.QueueExternal) {
		return nil
	}
	rb, ok := rt.Runbooks.Get(w.RunbookHash)
	if !ok {
		return nil
	}
	q, ok := rb.Queues[w.QueueName]
	if !ok || q.List == "" {
		return nil
	}
	return []effect.Effect{effect.PollQueue{
		WorkerName: w.Name, Project: project, ListCommand: q.List, Cwd: w.ProjectPath,
	}}
}
