// Package runtime is the daemon's single writer: the
// cooperative event loop that owns MaterializedState and the WAL. It
// receives events on a channel, WAL-appends and applies each one, then
// dispatches it through pure handler functions that compute the next
// effects. Deferred effects (agent spawn, shell, workspace
// provisioning, notifications) are handed off to an Executor; Emit,
// SetTimer and CancelTimer are handled in-loop so WAL ordering matches
// handler declaration order (effects produced by a single
// handler are applied in declaration order).
package runtime

import (
	"context"
	"fmt"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
	"github.com/ajlab/ojd/internal/wal"
	"go.uber.org/zap"
)

// Executor performs a deferred Effect. Implemented by
// internal/executor; kept as an interface here so runtime has no
// dependency on subprocess/docker/websocket collaborators.
type Executor interface {
	Execute(ctx context.Context, eff effect.Effect)
}

// Clock returns the current time in milliseconds, injected so tests can
// control it (Apply and steps never call time.Now directly).
type Clock func() int64

// Runtime is the daemon's single-writer event loop.
type Runtime struct {
	State    *state.MaterializedState
	WAL      *wal.Store
	Runbooks *runbook.Cache
	Cfg      *config.Config
	Log      *logger.Logger
	Executor Executor
	Clock    Clock

	ch     chan event.Event
	timers *timerWheel

	// cooldowns is an ephemeral, non-WAL-persisted suppression set keyed
	// by "ownerKind:ownerID:trigger": while present, onTrigger treats
	// that trigger as already handled until its cooldown timer clears
	// (an action chain entry's cooldown). Like state.PollMeta,
	// it is explicitly outside the "no hidden state" invariant: losing
	// it on restart only risks one redundant action firing early.
	cooldowns map[string]bool

	fatal chan error

	// JobObserver, when set, is called once per handled job-lifecycle
	// event (the kinds jobIDOfEvent lists), with the job's state
	// immediately after Apply (nil if the event deleted it). Events that
	// change a job row only indirectly (workspace, agent and decision
	// events, JobResume) do not call it. internal/lifecycle uses this to
	// keep an on-disk breadcrumb in sync with every job transition
	// without handlers themselves performing I/O (breadcrumbs are
	// atomically replaced on job state changes).
	JobObserver func(job *state.Job)
}

// New builds a Runtime. Run must be called to start the loop.
func New(st *state.MaterializedState, w *wal.Store, rb *runbook.Cache, cfg *config.Config, log *logger.Logger, exec Executor, clock Clock) *Runtime {
	rt := &Runtime{
		State: st, WAL: w, Runbooks: rb, Cfg: cfg, Log: log, Executor: exec, Clock: clock,
		ch:        make(chan event.Event, 256),
		cooldowns: make(map[string]bool),
		fatal:     make(chan error, 1),
	}
	rt.timers = newTimerWheel(rt)
	return rt
}

// Submit enqueues ev for processing by the loop. Safe to call from any
// goroutine (background tasks, the listener, timers).
func (rt *Runtime) Submit(ev event.Event) {
	rt.ch <- ev
}

// Run drains the event channel until ctx is cancelled or a WAL write
// fails (a WAL write failure is fatal: log, stop accepting
// requests, exit).
func (rt *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			rt.timers.stopAll()
			return ctx.Err()
		case err := <-rt.fatal:
			rt.timers.stopAll()
			return err
		case ev := <-rt.ch:
			rt.handle(ctx, ev)
		}
	}
}

func (rt *Runtime) now() int64 { return rt.Clock() }

// handle is the recursive core: WAL-append, apply, dispatch, run
// effects. Apply and Dispatch share one write-lock critical section, so
// a handler's direct reads of state never race with the listener's
// snapshot queries. Emit effects recurse synchronously into handle
// (after the critical section has been released) so a single inbound
// event's whole effect tree lands in the WAL in declaration order before
// the loop reads its next channel message.
func (rt *Runtime) handle(ctx context.Context, ev event.Event) {
	atMs := rt.now()
	if _, err := rt.WAL.Append(ev, atMs); err != nil {
		rt.Log.Error("wal append failed, daemon cannot continue", zap.Error(err))
		select {
		case rt.fatal <- fmt.Errorf("runtime: wal append: %w", err):
		default:
		}
		return
	}
	var effects []effect.Effect
	rt.State.Mutate(func(s *state.MaterializedState) {
		state.ApplyLocked(s, ev, atMs)
		if rt.JobObserver != nil {
			if id, ok := jobIDOfEvent(ev); ok {
				rt.JobObserver(s.Jobs[id])
			}
		}
		effects = Dispatch(rt, ev, atMs)
	})
	rt.runEffects(ctx, effects)
}

// jobIDOfEvent extracts the job ID from the job-lifecycle event kinds
// (creation, step transitions, cancel/suspend, deletion), so JobObserver can be driven generically instead of every
// job handler performing its own breadcrumb I/O.
func jobIDOfEvent(ev event.Event) (string, bool) {
	switch e := ev.(type) {
	case *event.JobCreated:
		return string(e.ID), true
	case *event.JobAdvanced:
		return string(e.ID), true
	case *event.StepStarted:
		return string(e.JobID), true
	case *event.StepCompleted:
		return string(e.JobID), true
	case *event.StepFailed:
		return string(e.JobID), true
	case *event.JobCancelling:
		return string(e.ID), true
	case *event.JobSuspending:
		return string(e.ID), true
	case *event.JobDeleted:
		return string(e.ID), true
	default:
		return "", false
	}
}

func (rt *Runtime) runEffects(ctx context.Context, effects []effect.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effect.Emit:
			rt.handle(ctx, e.Event)
		case effect.SetTimer:
			rt.timers.set(e.ID, e.Duration)
		case effect.CancelTimer:
			rt.timers.cancel(e.ID)
		default:
			if rt.Executor != nil {
				rt.Executor.Execute(ctx, eff)
			}
		}
	}
}

// ReplayApply folds an already-WAL-recorded event into state during
// startup replay, without re-appending or re-dispatching side effects
// (those were already executed before the crash/restart; reconciliation
// in internal/lifecycle handles anything left dangling).
func ReplayApply(st *state.MaterializedState, env event.Envelope, ev event.Event) {
	state.Apply(st, ev, env.AtMs)
}
