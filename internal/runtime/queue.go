package runtime

import (
	"time"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/queueengine"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
)

// defaultQueuePollInterval paces an external worker's list command when
// the runbook doesn't otherwise drive its cadence.
const defaultQueuePollInterval = 5 * time.Second

// onWorkerStarted reconciles a worker's dispatch bookkeeping against the
// entities it actually owns. Every item still marked taken by this
// worker is checked: a live, non-terminal owner keeps its slot (the
// mapping was already rebuilt from WorkerItemDispatched during replay);
// an item whose owner is gone or terminal (including one taken right
// before a crash, before any job was created for it) goes through the
// same failure pass a runtime failure would, so the retry budget decides
// between a cooldown retry and the dead letter. Finishes by arming the
// external poll timer and waking the dispatch loop.
func (rt *Runtime) onWorkerStarted(e *event.WorkerStarted) []effect.Effect {
	w := rt.State.Workers[state.ScopedName(e.Project, e.Name)]
	if w == nil {
		return nil
	}
	var effects []effect.Effect
	items := rt.State.QueueItems[state.ScopedName(e.Project, w.QueueName)]
	for _, item := range items {
		if item.Status != state.QueueItemTaken || item.Worker != w.Name {
			continue
		}
		if ownerKey, ok := ownerKeyForItem(w, item.ID); ok && rt.ownerStillActive(ownerKey) {
			continue
		}
		effects = append(effects, rt.failQueueItem(w, item, "orphaned: owner not active after restart")...)
	}
	if w.QueueType == string(runbook.QueueExternal) && w.Status == state.WorkerRunning {
		effects = append(effects, effect.SetTimer{
			ID: string(ids.TimerKey("queue_poll", e.Project, e.Name)), Duration: defaultQueuePollInterval,
		})
	}
	if w.Status == state.WorkerRunning {
		effects = append(effects, effect.Emit{Event: &event.WorkerWake{Name: e.Name, Project: e.Project}})
	}
	return effects
}

func ownerKeyForItem(w *state.Worker, itemID string) (string, bool) {
	for ownerKey, id := range w.ItemMap {
		if id == itemID {
			return ownerKey, true
		}
	}
	return "", false
}

// failQueueItem is the shared failure pass: record the failure, then
// either arm the retry cooldown or dead-letter the item once the
// worker's retry budget is spent.
func (rt *Runtime) failQueueItem(w *state.Worker, item *state.QueueItem, reason string) []effect.Effect {
	effects := []effect.Effect{effect.Emit{Event: &event.QueueFailed{
		Queue: w.QueueName, Project: w.Project, ItemID: item.ID, Reason: reason,
	}}}
	if queueengine.ShouldRetry(item.Attempts+1, w.RetryAttempts) {
		effects = append(effects, effect.SetTimer{
			ID:       string(ids.TimerKey("queue_retry", w.Project, w.QueueName, item.ID)),
			Duration: parseInterval(w.RetryCooldown),
		})
	} else {
		effects = append(effects, effect.Emit{Event: &event.QueueItemDead{Queue: w.QueueName, Project: w.Project, ItemID: item.ID}})
	}
	return effects
}

func (rt *Runtime) ownerStillActive(ownerKey string) bool {
	kind, id := splitOwnerKey(ownerKey)
	switch state.OwnerKind(kind) {
	case state.OwnerKindJob:
		job := rt.State.Jobs[id]
		return job != nil && !job.IsTerminal()
	case state.OwnerKindCrew:
		crew := rt.State.Crew[id]
		return crew != nil && !crew.Status.IsTerminal()
	}
	return false
}

func splitOwnerKey(key string) (kind, id string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

// onQueuePushed wakes every running worker bound to the pushed-to queue,
// so dispatch doesn't wait for the next poll/wake cycle.
func (rt *Runtime) onQueuePushed(e *event.QueuePushed) []effect.Effect {
	return rt.wakeWorkersFor(e.Project, e.Queue)
}

// onQueueItemRetry follows an item's return to pending (whether from
// the cooldown timer or an operator's manual retry of a dead item) with
// a wake for the bound workers so it redispatches promptly.
func (rt *Runtime) onQueueItemRetry(e *event.QueueItemRetry) []effect.Effect {
	return rt.wakeWorkersFor(e.Project, e.Queue)
}

func (rt *Runtime) wakeWorkersFor(project, queue string) []effect.Effect {
	var effects []effect.Effect
	for _, w := range rt.State.Workers {
		if w.Project == project && w.QueueName == queue && w.Status == state.WorkerRunning {
			effects = append(effects, effect.Emit{Event: &event.WorkerWake{Name: w.Name, Project: w.Project}})
		}
	}
	return effects
}

// onWorkerWake takes and dispatches as many pending items as the
// worker's spare capacity allows.
func (rt *Runtime) onWorkerWake(e *event.WorkerWake, nowMs int64) []effect.Effect {
	w := rt.State.Workers[state.ScopedName(e.Project, e.Name)]
	if w == nil || w.Status != state.WorkerRunning {
		return nil
	}
	return rt.dispatchFromQueue(w, nowMs)
}

// onWorkerPollComplete records an external worker's freshly-listed items
// as queue pushes (skipping ones already in flight from a prior poll)
// and re-arms the poll timer; the QueuePushed cascade (onQueuePushed ->
// WorkerWake) does the actual dispatching.
func (rt *Runtime) onWorkerPollComplete(e *event.WorkerPollComplete, nowMs int64) []effect.Effect {
	w := rt.State.Workers[state.ScopedName(e.Project, e.Name)]
	if w == nil {
		return nil
	}
	var effects []effect.Effect
	for _, it := range e.Items {
		if w.InflightItems[it.ID] {
			continue
		}
		effects = append(effects, effect.Emit{Event: &event.QueuePushed{
			Queue: w.QueueName, Project: w.Project, ItemID: it.ID, Data: it.Data, PushedAt: nowMs,
		}})
	}
	if w.Status == state.WorkerRunning {
		effects = append(effects, effect.SetTimer{
			ID: string(ids.TimerKey("queue_poll", e.Project, e.Name)), Duration: defaultQueuePollInterval,
		})
	}
	return effects
}

// dispatchFromQueue selects the oldest pending items up to w's spare
// capacity and fires a job for each (queue workers are always
// bound to job kinds).
func (rt *Runtime) dispatchFromQueue(w *state.Worker, nowMs int64) []effect.Effect {
	capacity := w.Concurrency - len(w.Active)
	if capacity <= 0 {
		return nil
	}
	queueKey := state.ScopedName(w.Project, w.QueueName)
	items := rt.State.QueueItems[queueKey]
	pending := make([]queueengine.Item, 0, len(items))
	for id, it := range items {
		if it.Status == state.QueueItemPending {
			pending = append(pending, queueengine.Item{ID: id, PushedAtMs: it.PushedAtMs})
		}
	}
	chosen := queueengine.SelectPending(pending, capacity)
	var effects []effect.Effect
	for _, c := range chosen {
		effects = append(effects, rt.dispatchQueueItem(w, items[c.ID], nowMs)...)
	}
	return effects
}

func (rt *Runtime) dispatchQueueItem(w *state.Worker, item *state.QueueItem, nowMs int64) []effect.Effect {
	jobID := ids.NewJobID()
	return []effect.Effect{
		effect.Emit{Event: &event.QueueTaken{Queue: w.QueueName, Project: w.Project, ItemID: item.ID, Worker: w.Name}},
		effect.Emit{Event: &event.JobCreated{
			ID: jobID, Kind_: w.JobKind, Name: w.JobKind, Project: w.Project, Cwd: w.ProjectPath,
			RunbookHash: w.RunbookHash, Vars: item.Data, CreatedAtMs: nowMs,
		}},
		effect.Emit{Event: &event.WorkerItemDispatched{
			Worker: w.Name, Project: w.Project, ItemID: item.ID, Owner: string(jobID), Kind_: "job",
		}},
	}
}

// onWorkerOwnedJobTerminal routes a worker-dispatched job's terminal
// outcome back into its queue item: done completes it, suspended leaves
// the dispatch slot held so JobResume can pick the same item back up,
// and failed/cancelled either arms a retry cooldown or dead-letters it
// once the worker's retry budget is spent.
func (rt *Runtime) onWorkerOwnedJobTerminal(job *state.Job) []effect.Effect {
	ownerKey := string(state.OwnerKindJob) + ":" + job.ID
	w := rt.findWorkerByOwnerKey(ownerKey)
	if w == nil {
		return nil
	}
	itemID := w.ItemMap[ownerKey]
	switch job.Step {
	case "done":
		return []effect.Effect{effect.Emit{Event: &event.QueueCompleted{Queue: w.QueueName, Project: w.Project, ItemID: itemID}}}
	case "suspended":
		return nil
	default: // "failed" or "cancelled"
		item := rt.State.QueueItems[state.ScopedName(w.Project, w.QueueName)][itemID]
		if item == nil {
			return nil
		}
		return rt.failQueueItem(w, item, job.Error)
	}
}

func (rt *Runtime) findWorkerByOwnerKey(ownerKey string) *state.Worker {
	for _, w := range rt.State.Workers {
		if _, ok := w.ItemMap[ownerKey]; ok {
			return w
		}
	}
	return nil
}
