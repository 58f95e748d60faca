package runtime

import (
	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
)

// Dispatch computes the follow-on effects for ev. It runs on the
// runtime's single goroutine, inside the same write-lock critical
// section that applied ev, so handlers read (and, for runtime-local
// bookkeeping like attempt counters, write) rt.State's maps directly
// without further locking.
func Dispatch(rt *Runtime, ev event.Event, nowMs int64) []effect.Effect {
	switch e := ev.(type) {
	case *event.JobCreated:
		return rt.onJobCreated(e)
	case *event.ShellExited:
		return rt.onShellExited(e, nowMs)
	case *event.CrewCreated:
		return rt.onCrewCreated(e)
	case *event.CrewUpdated:
		return rt.onCrewUpdated(e)
	case *event.AgentSpawned:
		return rt.onAgentSpawned(e)
	case *event.WorkspaceFailed:
		return rt.onWorkspaceFailed(e)
	case *event.WorkspaceCleaning:
		return rt.onWorkspaceCleaning(e)
	case *event.AgentSignal:
		return rt.onAgentSignal(e, nowMs)
	case *event.AgentWaiting:
		return rt.onAgentWaiting(e, nowMs)
	case *event.AgentPrompt:
		return rt.onAgentPrompt(e, nowMs)
	case *event.AgentExited:
		return rt.onAgentExited(e, nowMs)
	case *event.AgentGone:
		return rt.onAgentGone(e, nowMs)
	case *event.AgentSpawnFailed:
		return rt.onAgentSpawnFailed(e)
	case *event.JobResume:
		return rt.onJobResume(e)
	case *event.JobCancel:
		return rt.onJobCancel(e)
	case *event.JobSuspend:
		return rt.onJobSuspend(e)
	case *event.JobAdvanced:
		return rt.onJobAdvancedSideEffects(e)
	case *event.TimerStart:
		return rt.onTimerStart(e, nowMs)
	case *event.WorkerStarted:
		return rt.onWorkerStarted(e)
	case *event.WorkerWake:
		return rt.onWorkerWake(e, nowMs)
	case *event.WorkerPollComplete:
		return rt.onWorkerPollComplete(e, nowMs)
	case *event.QueuePushed:
		return rt.onQueuePushed(e)
	case *event.QueueItemRetry:
		return rt.onQueueItemRetry(e)
	case *event.CronStarted:
		return rt.onCronStarted(e)
	case *event.CronOnce:
		return rt.onCronOnce(e, nowMs)
	case *event.DecisionResolve:
		return rt.onDecisionResolve(e, nowMs)
	case *event.DecisionResolved:
		return rt.onDecisionResolved(e, nowMs)
	default:
		return nil
	}
}
