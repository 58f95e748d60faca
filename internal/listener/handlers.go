package listener

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ajlab/ojd/internal/effect"
	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/runbook"
	"github.com/ajlab/ojd/internal/state"
)

// dispatch decodes req.Payload into the concrete request for req.Type,
// runs it, and wraps the result or error in the wire envelope. Writes
// submit an Event to the Runtime and return immediately (the WAL append
// and projection happen asynchronously on the single-writer goroutine);
// reads snapshot state.View synchronously before replying.
func (l *Listener) dispatch(ctx context.Context, req Request) Response {
	switch req.Type {
	case "Hello":
		return ok(req.ID, req.Type, map[string]int{"version": 1})
	case "Ping":
		return ok(req.ID, req.Type, map[string]string{"pong": "ok"})

	case "RunCommand":
		return l.handle(req, l.decodeRun)

	case "JobResume":
		return l.handle(req, l.jobResume)
	case "JobCancel":
		return l.handle(req, l.jobCancel)
	case "JobSuspend":
		return l.handle(req, l.jobSuspend)
	case "JobList":
		return l.handle(req, l.jobList)
	case "JobPrune":
		return l.handle(req, l.jobPrune)

	case "AgentSend":
		return l.handle(req, l.agentSend)
	case "AgentKill":
		return l.handle(req, l.agentKill)
	case "AgentResume":
		return l.handle(req, l.agentResume)

	case "WorkerStart":
		return l.handle(req, l.workerStart)
	case "WorkerStop":
		return l.handle(req, l.workerStop)
	case "WorkerList":
		return l.handle(req, l.workerList)

	case "CronStart":
		return l.handle(req, l.cronStart)
	case "CronStop":
		return l.handle(req, l.cronStop)
	case "CronOnce":
		return l.handle(req, l.cronOnce)
	case "CronList":
		return l.handle(req, l.cronList)

	case "QueuePush":
		return l.handle(req, l.queuePush)
	case "QueueList":
		return l.handle(req, l.queueList)
	case "QueueDrop":
		return l.handle(req, l.queueDrop)
	case "QueueRetry":
		return l.handle(req, l.queueRetry)
	case "QueueDrain":
		return l.handle(req, l.queueDrain)
	case "QueuePrune":
		return l.handle(req, l.queuePrune)

	case "CrewPrune":
		return l.handle(req, l.crewPrune)

	case "WorkspaceList":
		return l.handle(req, l.workspaceList)
	case "WorkspaceDrop":
		return l.handle(req, l.workspaceDrop)

	case "DecisionResolve":
		return l.handle(req, l.decisionResolve)

	case "Query":
		return l.handle(req, l.query)

	default:
		return errResponse(req.ID, req.Type, ojerr.Validation("unknown request type %q", req.Type))
	}
}

// handle decodes req.Payload with fn's own payload type via a closure,
// runs it, and folds the (value, error) into a Response. The handler
// signature below keeps each operation to a single function literal
// without repeating the decode/ok/errResponse boilerplate everywhere.
func (l *Listener) handle(req Request, fn func(Request) (any, error)) Response {
	payload, err := fn(req)
	if err != nil {
		return errResponse(req.ID, req.Type, err)
	}
	return ok(req.ID, req.Type, payload)
}

func decode[T any](req Request) (T, error) {
	var v T
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &v); err != nil {
			return v, ojerr.Validation("bad payload: %v", err)
		}
	}
	return v, nil
}

func (l *Listener) decodeRun(req Request) (any, error) {
	r, err := decode[RunCommandRequest](req)
	if err != nil {
		return nil, err
	}
	return l.runCommand(r)
}

// --- Jobs ---

// bulkJobOp is the shared bulk machinery: resolve each ref, partition
// into (ok, skipped, not-found) by the eligibility check, and submit the
// event for the ok set. Single-ref requests share the same path and
// return the summary with one entry.
func (l *Listener) bulkJobOp(r JobRefRequest, eligible func(*state.Job) bool, submit func(id string)) (BulkSummary, error) {
	refs := r.Refs
	if len(refs) == 0 && r.Ref != "" {
		refs = []string{r.Ref}
	}
	if r.All {
		l.State.View(func(s *state.MaterializedState) {
			for id, j := range s.Jobs {
				if eligible(j) {
					refs = append(refs, id)
				}
			}
		})
	}
	if len(refs) == 0 {
		return BulkSummary{}, ojerr.Validation("no job refs given")
	}

	summary := BulkSummary{OK: []string{}, Skipped: []string{}, NotFound: []string{}}
	resolver := l.resolver("job")
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		id, err := resolver.Resolve(ref)
		if err != nil {
			summary.NotFound = append(summary.NotFound, ref)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		var job *state.Job
		l.State.View(func(s *state.MaterializedState) { job = s.Jobs[id] })
		if job == nil {
			summary.NotFound = append(summary.NotFound, ref)
			continue
		}
		if !eligible(job) {
			summary.Skipped = append(summary.Skipped, id)
			continue
		}
		submit(id)
		summary.OK = append(summary.OK, id)
	}
	return summary, nil
}

func (l *Listener) jobResume(req Request) (any, error) {
	r, err := decode[JobRefRequest](req)
	if err != nil {
		return nil, err
	}
	// A job parked Waiting on its agent needs input to resume; without a
	// message it is skipped rather than silently no-opped by the runtime.
	resumable := func(j *state.Job) bool {
		if j.Step == "failed" || j.Step == "suspended" {
			return true
		}
		return j.StepStatus.Phase == state.StepWaiting && r.Message != ""
	}
	return l.bulkJobOp(r, resumable, func(id string) {
		l.RT.Submit(&event.JobResume{ID: ids.JobID(id), Message: r.Message, Vars: r.Vars, Kill: r.Kill})
	})
}

func (l *Listener) jobCancel(req Request) (any, error) {
	r, err := decode[JobRefRequest](req)
	if err != nil {
		return nil, err
	}
	return l.bulkJobOp(r, func(j *state.Job) bool { return !j.IsTerminal() }, func(id string) {
		l.RT.Submit(&event.JobCancel{ID: ids.JobID(id)})
	})
}

func (l *Listener) jobSuspend(req Request) (any, error) {
	r, err := decode[JobRefRequest](req)
	if err != nil {
		return nil, err
	}
	return l.bulkJobOp(r, func(j *state.Job) bool { return !j.IsTerminal() }, func(id string) {
		l.RT.Submit(&event.JobSuspend{ID: ids.JobID(id)})
	})
}

// jobView is the flattened read-model shape returned to clients; it
// exists so internal state.Job never crosses the wire directly.
type jobView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Project     string `json:"project"`
	Step        string `json:"step"`
	StepPhase   string `json:"step_phase"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func toJobView(j *state.Job) jobView {
	return jobView{
		ID: j.ID, Kind: j.KindName, Name: j.Name, Project: j.Project,
		Step: j.Step, StepPhase: string(j.StepStatus.Phase),
		WorkspaceID: j.WorkspaceID, Error: j.Error, CreatedAtMs: j.CreatedAtMs,
	}
}

func (l *Listener) jobList(req Request) (any, error) {
	r, err := decode[JobListRequest](req)
	if err != nil {
		return nil, err
	}
	var out []jobView
	l.State.View(func(s *state.MaterializedState) {
		for _, j := range s.Jobs {
			if !r.All && j.IsTerminal() {
				continue
			}
			if r.Project != "" && j.Project != r.Project {
				continue
			}
			out = append(out, toJobView(j))
		}
	})
	return out, nil
}

func (l *Listener) jobPrune(req Request) (any, error) {
	r, err := decode[JobPruneRequest](req)
	if err != nil {
		return nil, err
	}
	var pruned []string
	l.State.View(func(s *state.MaterializedState) {
		for id, j := range s.Jobs {
			if !j.IsTerminal() {
				continue
			}
			if r.Project != "" && j.Project != r.Project {
				continue
			}
			pruned = append(pruned, id)
		}
	})
	for _, id := range pruned {
		l.RT.Submit(&event.JobDeleted{ID: ids.JobID(id)})
	}
	return map[string]int{"pruned": len(pruned)}, nil
}

// --- Agents ---

// agentOwner looks up the owner of ref, resolved against both job- and
// crew-owned agent records (AgentRecord.owner is the polymorphic
// Job|Crew union).
func (l *Listener) agentOwner(ref string) (agentID string, owner state.Owner, err error) {
	id, err := l.resolver("agent").Resolve(ref)
	if err != nil {
		return "", state.Owner{}, ojerr.NotFound("agent", ref)
	}
	var rec *state.AgentRecord
	l.State.View(func(s *state.MaterializedState) { rec = s.Agents[id] })
	if rec == nil {
		return "", state.Owner{}, ojerr.NotFound("agent", ref)
	}
	return id, rec.Owner, nil
}

// agentSend delivers input to a running agent. When the owner has a
// live decision (the agent is waiting on an approval/question/plan or
// went idle), the input resolves that decision, the same path a
// DecisionResolve from the client takes. Otherwise, for a job-owned
// agent, it's a JobResume carrying the message; for a crew (no step
// machinery to resume), it's forwarded straight through as a deferred
// SendToAgent effect since a running crew has no state transition to
// drive (documented simplification, see DESIGN.md).
func (l *Listener) agentSend(req Request) (any, error) {
	r, err := decode[AgentSendRequest](req)
	if err != nil {
		return nil, err
	}
	agentID, owner, err := l.agentOwner(r.Ref)
	if err != nil {
		return nil, err
	}

	var decision *state.Decision
	l.State.View(func(s *state.MaterializedState) { decision = state.UnresolvedDecisionFor(s, owner) })
	if decision != nil {
		l.RT.Submit(&event.DecisionResolve{ID: ids.DecisionID(decision.ID), Message: r.Input})
		return map[string]string{"agent_id": agentID, "routed_via": "decision"}, nil
	}

	if owner.Kind == state.OwnerKindJob {
		l.RT.Submit(&event.JobResume{ID: ids.JobID(owner.ID), Message: r.Input})
		return map[string]string{"agent_id": agentID, "routed_via": "job_resume"}, nil
	}

	if l.RT.Executor != nil {
		l.RT.Executor.Execute(bgCtx(), effect.SendToAgent{AgentID: agentID, Input: r.Input})
	}
	return map[string]string{"agent_id": agentID, "routed_via": "direct"}, nil
}

// agentKill terminates a running agent. A job-owned agent is killed by
// cancelling the job (cancelJob's terminalEffects already issue the
// KillAgent); a crew has no owning job to cancel through, so it's killed
// directly and marked failed.
func (l *Listener) agentKill(req Request) (any, error) {
	r, err := decode[AgentRefRequest](req)
	if err != nil {
		return nil, err
	}
	agentID, owner, err := l.agentOwner(r.Ref)
	if err != nil {
		return nil, err
	}

	switch owner.Kind {
	case state.OwnerKindJob:
		l.RT.Submit(&event.JobCancel{ID: ids.JobID(owner.ID)})
	case state.OwnerKindCrew:
		l.RT.Submit(&event.CrewUpdated{ID: ids.CrewID(owner.ID), Status: string(state.CrewFailed), Reason: "killed by client"})
		if l.RT.Executor != nil {
			l.RT.Executor.Execute(bgCtx(), effect.KillAgent{AgentID: agentID})
		}
	}
	return map[string]string{"agent_id": agentID}, nil
}

func (l *Listener) agentResume(req Request) (any, error) {
	r, err := decode[AgentResumeRequest](req)
	if err != nil {
		return nil, err
	}
	_, owner, err := l.agentOwner(r.Ref)
	if err != nil {
		return nil, err
	}
	if owner.Kind != state.OwnerKindJob {
		return nil, ojerr.InvalidTransition("only a job-owned agent can be resumed", "resume the job's parent command instead")
	}
	l.RT.Submit(&event.JobResume{ID: ids.JobID(owner.ID), Message: r.Message})
	return map[string]string{"job_id": owner.ID}, nil
}

// --- Workers ---

// projectPath looks up the filesystem root CommandRun recorded for
// project, falling back to project itself when nothing has touched it
// yet (e.g. a worker/cron started before any command ran there).
func (l *Listener) projectPath(project string) string {
	var path string
	l.State.View(func(s *state.MaterializedState) { path = s.ProjectPaths[project] })
	if path == "" {
		return project
	}
	return path
}

func (l *Listener) workerStart(req Request) (any, error) {
	r, err := decode[WorkerStartRequest](req)
	if err != nil {
		return nil, err
	}
	cwd := l.projectPath(r.Project)
	rb, err := l.resolveRunbook(r.Project, cwd)
	if err != nil {
		return nil, err
	}
	w, ok := rb.Workers[r.Name]
	if !ok {
		return nil, ojerr.NotFound("worker", r.Name)
	}
	q, ok := rb.Queues[w.Queue]
	if !ok {
		return nil, ojerr.Runbook(cwd, fmt.Errorf("worker %q references unknown queue %q", r.Name, w.Queue))
	}
	attempts, cooldown := 0, ""
	if w.Retry != nil {
		attempts, cooldown = w.Retry.Attempts, w.Retry.Cooldown
	}
	l.RT.Submit(&event.WorkerStarted{
		Name: r.Name, Project: r.Project, ProjectPath: cwd, RunbookHash: rb.Hash,
		Concurrency: w.Concurrency, QueueName: w.Queue, QueueType: string(q.Type), JobKind: w.Job,
		RetryAttempts: attempts, RetryCooldown: cooldown,
	})
	return map[string]string{"name": r.Name}, nil
}

func (l *Listener) workerStop(req Request) (any, error) {
	r, err := decode[WorkerStopRequest](req)
	if err != nil {
		return nil, err
	}
	l.RT.Submit(&event.WorkerStopped{Name: r.Name, Project: r.Project})
	return map[string]string{"name": r.Name}, nil
}

type workerView struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Status      string `json:"status"`
	Concurrency int    `json:"concurrency"`
	Queue       string `json:"queue"`
	Active      int    `json:"active"`
}

func (l *Listener) workerList(req Request) (any, error) {
	r, err := decode[WorkerListRequest](req)
	if err != nil {
		return nil, err
	}
	var out []workerView
	l.State.View(func(s *state.MaterializedState) {
		for _, w := range s.Workers {
			if r.Project != "" && w.Project != r.Project {
				continue
			}
			out = append(out, workerView{
				Name: w.Name, Project: w.Project, Status: string(w.Status),
				Concurrency: w.Concurrency, Queue: w.QueueName, Active: len(w.Active),
			})
		}
	})
	return out, nil
}

// --- Crons ---

func (l *Listener) cronStart(req Request) (any, error) {
	r, err := decode[CronStartRequest](req)
	if err != nil {
		return nil, err
	}
	cwd := l.projectPath(r.Project)
	rb, err := l.resolveRunbook(r.Project, cwd)
	if err != nil {
		return nil, err
	}
	c, ok := rb.Crons[r.Name]
	if !ok {
		return nil, ojerr.NotFound("cron", r.Name)
	}
	l.RT.Submit(&event.CronStarted{
		Name: r.Name, Project: r.Project, ProjectPath: cwd, RunbookHash: rb.Hash,
		Interval: c.Interval, TargetKind: c.Target.Kind(), TargetName: cronTargetName(c.Target),
		Concurrency: c.Concurrency,
	})
	return map[string]string{"name": r.Name}, nil
}

// cronTargetName extracts whichever of Job/Agent/Shell is populated on a
// CronTarget, matching the selection c.Target.Kind() already made.
func cronTargetName(t runbook.CronTarget) string {
	switch t.Kind() {
	case "job":
		return t.Job
	case "agent":
		return t.Agent
	default:
		return t.Shell
	}
}

func (l *Listener) cronStop(req Request) (any, error) {
	r, err := decode[CronStopRequest](req)
	if err != nil {
		return nil, err
	}
	l.RT.Submit(&event.CronStopped{Name: r.Name, Project: r.Project})
	return map[string]string{"name": r.Name}, nil
}

func (l *Listener) cronOnce(req Request) (any, error) {
	r, err := decode[CronOnceRequest](req)
	if err != nil {
		return nil, err
	}
	ownerID := string(ids.NewJobID())
	l.RT.Submit(&event.CronOnce{Cron: r.Name, Project: r.Project, OwnerID: ownerID})
	return map[string]string{"owner_id": ownerID}, nil
}

type cronView struct {
	Name     string `json:"name"`
	Project  string `json:"project"`
	Status   string `json:"status"`
	Interval string `json:"interval"`
	Active   int    `json:"active"`
}

func (l *Listener) cronList(req Request) (any, error) {
	r, err := decode[CronListRequest](req)
	if err != nil {
		return nil, err
	}
	var out []cronView
	l.State.View(func(s *state.MaterializedState) {
		for _, c := range s.Crons {
			if r.Project != "" && c.Project != r.Project {
				continue
			}
			out = append(out, cronView{
				Name: c.Name, Project: c.Project, Status: string(c.Status),
				Interval: c.Interval, Active: len(c.ActiveOwners),
			})
		}
	})
	return out, nil
}

// --- Queues ---

func (l *Listener) queuePush(req Request) (any, error) {
	r, err := decode[QueuePushRequest](req)
	if err != nil {
		return nil, err
	}
	itemID := string(ids.NewJobID())
	l.RT.Submit(&event.QueuePushed{Queue: r.Queue, Project: r.Project, ItemID: itemID, Data: r.Data, PushedAt: nowMs()})
	return map[string]string{"item_id": itemID}, nil
}

type queueItemView struct {
	ID       string            `json:"id"`
	Queue    string            `json:"queue"`
	Status   string            `json:"status"`
	Worker   string            `json:"worker,omitempty"`
	Attempts int               `json:"attempts"`
	Data     map[string]string `json:"data,omitempty"`
}

func (l *Listener) queueList(req Request) (any, error) {
	r, err := decode[QueueListRequest](req)
	if err != nil {
		return nil, err
	}
	var out []queueItemView
	l.State.View(func(s *state.MaterializedState) {
		for _, item := range s.QueueItems[state.ScopedName(r.Project, r.Queue)] {
			out = append(out, queueItemView{
				ID: item.ID, Queue: item.Queue, Status: string(item.Status),
				Worker: item.Worker, Attempts: item.Attempts, Data: item.Data,
			})
		}
	})
	return out, nil
}

// findQueueItem resolves an item id (or unambiguous prefix) within one
// scoped queue.
func (l *Listener) findQueueItem(project, queue, ref string) (*state.QueueItem, error) {
	var all []string
	l.State.View(func(s *state.MaterializedState) {
		for id := range s.QueueItems[state.ScopedName(project, queue)] {
			all = append(all, id)
		}
	})
	id, err := (ids.Resolver{All: all}).Resolve(ref)
	if err != nil {
		return nil, ojerr.NotFound("queue item", ref)
	}
	var item *state.QueueItem
	l.State.View(func(s *state.MaterializedState) {
		item = s.QueueItems[state.ScopedName(project, queue)][id]
	})
	if item == nil {
		return nil, ojerr.NotFound("queue item", ref)
	}
	return item, nil
}

// queueDrop removes an item outright. Items currently being worked
// (taken) must be cancelled through their owning job instead.
func (l *Listener) queueDrop(req Request) (any, error) {
	r, err := decode[QueueItemRequest](req)
	if err != nil {
		return nil, err
	}
	item, err := l.findQueueItem(r.Project, r.Queue, r.ItemID)
	if err != nil {
		return nil, err
	}
	if item.Status == state.QueueItemTaken {
		return nil, ojerr.InvalidTransition("item is being worked", "cancel its job first")
	}
	l.RT.Submit(&event.QueueDropped{Queue: r.Queue, Project: r.Project, ItemID: item.ID})
	return map[string]string{"item_id": item.ID}, nil
}

// queueRetry returns a dead or failed item to pending without waiting
// for (or after exhausting) the automatic retry budget.
func (l *Listener) queueRetry(req Request) (any, error) {
	r, err := decode[QueueItemRequest](req)
	if err != nil {
		return nil, err
	}
	item, err := l.findQueueItem(r.Project, r.Queue, r.ItemID)
	if err != nil {
		return nil, err
	}
	if item.Status != state.QueueItemDead && item.Status != state.QueueItemFailed {
		return nil, ojerr.InvalidTransition("item is not dead or failed", "only dead/failed items can be retried")
	}
	l.RT.Submit(&event.QueueItemRetry{Queue: r.Queue, Project: r.Project, ItemID: item.ID})
	return map[string]string{"item_id": item.ID}, nil
}

// queueDrain drops every pending item from a queue; in-flight items run
// to completion.
func (l *Listener) queueDrain(req Request) (any, error) {
	r, err := decode[QueueDrainRequest](req)
	if err != nil {
		return nil, err
	}
	var pending []string
	l.State.View(func(s *state.MaterializedState) {
		for id, item := range s.QueueItems[state.ScopedName(r.Project, r.Queue)] {
			if item.Status == state.QueueItemPending {
				pending = append(pending, id)
			}
		}
	})
	for _, id := range pending {
		l.RT.Submit(&event.QueueDropped{Queue: r.Queue, Project: r.Project, ItemID: id})
	}
	return map[string]int{"dropped": len(pending)}, nil
}

// queuePrune drops finished items (completed or dead); pending and
// in-flight items are untouched.
func (l *Listener) queuePrune(req Request) (any, error) {
	r, err := decode[QueuePruneRequest](req)
	if err != nil {
		return nil, err
	}
	var finished []string
	l.State.View(func(s *state.MaterializedState) {
		for id, item := range s.QueueItems[state.ScopedName(r.Project, r.Queue)] {
			if item.Status == state.QueueItemCompleted || item.Status == state.QueueItemDead {
				finished = append(finished, id)
			}
		}
	})
	for _, id := range finished {
		l.RT.Submit(&event.QueueDropped{Queue: r.Queue, Project: r.Project, ItemID: id})
	}
	return map[string]int{"pruned": len(finished)}, nil
}

// crewPrune deletes terminal crews; their agent records go with them.
func (l *Listener) crewPrune(req Request) (any, error) {
	r, err := decode[CrewPruneRequest](req)
	if err != nil {
		return nil, err
	}
	var pruned []string
	l.State.View(func(s *state.MaterializedState) {
		for id, c := range s.Crew {
			if !c.Status.IsTerminal() {
				continue
			}
			if r.Project != "" && c.Project != r.Project {
				continue
			}
			pruned = append(pruned, id)
		}
	})
	for _, id := range pruned {
		l.RT.Submit(&event.CrewDeleted{ID: ids.CrewID(id)})
	}
	return map[string]int{"pruned": len(pruned)}, nil
}

// --- Workspaces ---

type workspaceView struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

func (l *Listener) workspaceList(req Request) (any, error) {
	r, err := decode[WorkspaceListRequest](req)
	if err != nil {
		return nil, err
	}
	var out []workspaceView
	l.State.View(func(s *state.MaterializedState) {
		for _, ws := range s.Workspaces {
			if r.Project != "" && ownerProject(s, ws.Owner) != r.Project {
				continue
			}
			out = append(out, workspaceView{ID: ws.ID, Path: ws.Path, Branch: ws.Branch, Status: string(ws.Status), Type: string(ws.Type)})
		}
	})
	return out, nil
}

// ownerProject resolves owner to the project namespace of the job or
// crew it names, for filters that scope workspace listings by project.
func ownerProject(s *state.MaterializedState, owner state.Owner) string {
	switch owner.Kind {
	case state.OwnerKindJob:
		if j := s.Jobs[owner.ID]; j != nil {
			return j.Project
		}
	case state.OwnerKindCrew:
		if c := s.Crew[owner.ID]; c != nil {
			return c.Project
		}
	}
	return ""
}

func (l *Listener) workspaceDrop(req Request) (any, error) {
	r, err := decode[WorkspaceDropRequest](req)
	if err != nil {
		return nil, err
	}
	id, err := l.resolver("workspace").Resolve(r.Ref)
	if err != nil {
		return nil, ojerr.NotFound("workspace", r.Ref)
	}
	l.RT.Submit(&event.WorkspaceCleaning{ID: ids.WorkspaceID(id)})
	return map[string]string{"id": id}, nil
}

// --- Decisions ---

func (l *Listener) decisionResolve(req Request) (any, error) {
	r, err := decode[DecisionResolveRequest](req)
	if err != nil {
		return nil, err
	}
	id, err := l.resolver("decision").Resolve(r.Ref)
	if err != nil {
		return nil, ojerr.NotFound("decision", r.Ref)
	}
	l.RT.Submit(&event.DecisionResolve{ID: ids.DecisionID(id), Choices: r.Choices, Message: r.Message})
	return map[string]string{"id": id}, nil
}

// --- Query (read-only catch-all) ---

func (l *Listener) query(req Request) (any, error) {
	r, err := decode[QueryRequest](req)
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case "jobs":
		return l.jobList(req)
	case "agents":
		return l.agentList(), nil
	case "workers":
		return l.workerList(req)
	case "crons":
		return l.cronList(req)
	case "queues":
		project, queue := state.SplitScoped(r.Ref)
		return l.queueList(Request{Payload: mustJSON(QueueListRequest{Project: project, Queue: queue})})
	case "workspaces":
		return l.workspaceList(req)
	case "decisions":
		return l.decisionList(), nil
	case "status":
		return l.status(), nil
	default:
		return nil, ojerr.Validation("unknown query kind %q", r.Kind)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

type agentView struct {
	ID        string `json:"id"`
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	Runtime   string `json:"runtime"`
}

func (l *Listener) agentList() []agentView {
	var out []agentView
	l.State.View(func(s *state.MaterializedState) {
		for _, a := range s.Agents {
			out = append(out, agentView{
				ID: a.ID, OwnerKind: string(a.Owner.Kind), OwnerID: a.Owner.ID,
				Name: a.AgentName, Project: a.Project, Status: string(a.Status), Runtime: string(a.Runtime),
			})
		}
	})
	return out
}

type decisionView struct {
	ID        string   `json:"id"`
	OwnerKind string   `json:"owner_kind"`
	OwnerID   string   `json:"owner_id"`
	Source    string   `json:"source"`
	Context   string   `json:"context,omitempty"`
	Options   []string `json:"options,omitempty"`
	Project   string   `json:"project"`
	CreatedAt int64    `json:"created_at_ms"`
}

// decisionList returns only live decisions; resolved and superseded ones
// are history, reachable through logs rather than this view.
func (l *Listener) decisionList() []decisionView {
	var out []decisionView
	l.State.View(func(s *state.MaterializedState) {
		for _, d := range s.Decisions {
			if d.Resolved || d.SupersededBy != "" {
				continue
			}
			out = append(out, decisionView{
				ID: d.ID, OwnerKind: string(d.Owner.Kind), OwnerID: d.Owner.ID,
				Source: string(d.Source), Context: d.Context, Options: d.Options,
				Project: d.Project, CreatedAt: d.CreatedAtMs,
			})
		}
	})
	return out
}

type statusView struct {
	Jobs       int `json:"jobs"`
	Crew       int `json:"crew"`
	Agents     int `json:"agents"`
	Workers    int `json:"workers"`
	Crons      int `json:"crons"`
	Decisions  int `json:"open_decisions"`
	Workspaces int `json:"workspaces"`
}

func (l *Listener) status() statusView {
	var v statusView
	l.State.View(func(s *state.MaterializedState) {
		v.Jobs, v.Crew, v.Agents = len(s.Jobs), len(s.Crew), len(s.Agents)
		v.Workers, v.Crons, v.Workspaces = len(s.Workers), len(s.Crons), len(s.Workspaces)
		for _, d := range s.Decisions {
			if !d.Resolved && d.SupersededBy == "" {
				v.Decisions++
			}
		}
	})
	return v
}

// bgCtx is used for the rare direct-to-executor calls the listener makes
// outside the event loop (SendToAgent/KillAgent bypass
// WAL ordering since they mutate no state of their own; see DESIGN.md).
func bgCtx() context.Context { return context.Background() }
