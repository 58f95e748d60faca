package state

import "github.com/ajlab/ojd/internal/event"

// Apply is the single entry point the WAL replayer and the runtime loop
// use to fold an Event into MaterializedState. It must be
// idempotent: re-applying the same event twice leaves state unchanged
// the second time. Apply takes the write lock itself; callers must not
// already hold it.
func Apply(s *MaterializedState, ev event.Event, nowMs int64) {
	s.Mutate(func(s *MaterializedState) {
		applyLocked(s, ev, nowMs)
	})
}

// ApplyLocked applies ev assuming the caller already holds the write
// lock (used by runtime.handle, which applies an event and dispatches it
// inside one Mutate critical section).
func ApplyLocked(s *MaterializedState, ev event.Event, nowMs int64) {
	applyLocked(s, ev, nowMs)
}

func applyLocked(s *MaterializedState, ev event.Event, nowMs int64) {
	switch ev.(type) {
	case *event.CrewCreated, *event.CrewStarted, *event.CrewUpdated, *event.CrewDeleted:
		applyCrewEvent(s, ev, nowMs)
		return
	}

	if e, ok := ev.(*event.ShellExited); ok {
		applyCronShellExit(s, e)
		return
	}

	if applyJobEvent(s, ev) {
		handleJobSideEffects(s, ev, nowMs)
		return
	}
	if applyAgentEvent(s, ev, nowMs) {
		return
	}
	if applyWorkspaceEvent(s, ev) {
		return
	}
	if applyWorkerEvent(s, ev) {
		return
	}
	if applyQueueEvent(s, ev) {
		return
	}
	if applyCronEvent(s, ev) {
		return
	}
	if applyDecisionEvent(s, ev, nowMs) {
		return
	}
	if applyRunbookEvent(s, ev) {
		return
	}
	// Unrecognized events (TimerStart, Shutdown, JobCancel,
	// JobSuspend, DecisionResolve, WorkerWake, WorkerPollComplete) carry
	// no direct state mutation; the runtime's handlers observe them and
	// emit the events above that do.
}

// applyCronShellExit releases a shell-target cron's concurrency slot when
// its firing's subprocess exits. Shell firings have no job/crew entity
// whose terminal transition would otherwise free the slot, and the
// release must live in the apply layer so replay reaches the same active
// set the live run did. Non-cron shell exits mutate nothing here; the
// runtime routes them through job/gate handling.
func applyCronShellExit(s *MaterializedState, e *event.ShellExited) {
	const prefix = "cron:"
	if len(e.Owner) <= len(prefix) || e.Owner[:len(prefix)] != prefix {
		return
	}
	rest := e.Owner[len(prefix):]
	i := len(rest) - 1
	for ; i >= 0; i-- {
		if rest[i] == ':' {
			break
		}
	}
	if i < 0 {
		return
	}
	scoped, ownerID := rest[:i], rest[i+1:]
	project, _ := SplitScoped(scoped)
	releaseCronOwner(s, project, ownerID)
}

// handleJobSideEffects runs the cross-entity bookkeeping that follows a
// job event: releasing decisions and the cron concurrency slot once a
// job reaches a terminal step. A worker's queue slot is released by the
// runtime (onWorkerOwnedJobTerminal), not here.
func handleJobSideEffects(s *MaterializedState, ev event.Event, nowMs int64) {
	var jobID string
	switch e := ev.(type) {
	case *event.JobAdvanced:
		jobID = string(e.ID)
	case *event.JobDeleted:
		jobID = string(e.ID)
	default:
		return
	}
	job := s.Jobs[jobID]
	if job == nil || !job.IsTerminal() {
		return
	}
	owner := OwnerOfJob(jobID)
	cleanupUnresolvedDecisions(s, owner, nowMs)
	if job.CronName != "" {
		releaseCronOwner(s, job.Project, jobID)
	}
}
