package state

import "github.com/ajlab/ojd/internal/event"

// AgentStatus is AgentRecord.status.
type AgentStatus string

const (
	AgentStarting        AgentStatus = "starting"
	AgentRunning         AgentStatus = "running"
	AgentWaitingForInput AgentStatus = "waiting_for_input"
	AgentExited          AgentStatus = "exited"
	AgentGone            AgentStatus = "gone"
	AgentFailed          AgentStatus = "failed"
)

// AgentRuntime is AgentRecord's runtime kind.
type AgentRuntime string

const (
	RuntimeCoop   AgentRuntime = "coop"
	RuntimeDocker AgentRuntime = "docker"
	RuntimeK8s    AgentRuntime = "k8s"
)

// AgentRecord is the unified, owner-keyed agent index.
type AgentRecord struct {
	ID            string
	Owner         Owner
	AgentName     string
	Project       string
	WorkspacePath string
	Status        AgentStatus
	Runtime       AgentRuntime
	SessionID     string
}

func applyAgentEvent(s *MaterializedState, ev event.Event, nowMs int64) bool {
	switch e := ev.(type) {
	case *event.AgentSpawned:
		id := string(e.AgentID)
		if _, exists := s.Agents[id]; !exists {
			s.Agents[id] = &AgentRecord{
				ID: id, Owner: ownerFromKindID(e.OwnerKind, e.OwnerID),
				AgentName: e.AgentName, Project: e.Project,
				WorkspacePath: e.WorkspacePath, Status: AgentStarting,
				Runtime: AgentRuntime(e.Runtime), SessionID: e.SessionID,
			}
		}
		// SpawnAgent is deferred: the step/crew that requested the
		// spawn recorded a blank AgentID placeholder; patch it in now
		// that the background task has resolved one. Guarded by the
		// blank check so replaying the same AgentSpawned twice is a
		// no-op (idempotent apply).
		if e.OwnerKind == string(OwnerKindJob) {
			if job := s.Jobs[e.OwnerID]; job != nil {
				for i := len(job.StepHistory) - 1; i >= 0; i-- {
					rec := &job.StepHistory[i]
					if rec.Step == job.Step && rec.AgentID == "" && rec.Outcome == "" {
						rec.AgentID = id
						break
					}
				}
			}
		}
		return true

	case *event.AgentSpawnFailed:
		return true // no agent record created; caller's job/crew failure path handles this

	case *event.AgentWorking:
		if rec := s.Agents[string(e.AgentID)]; rec != nil {
			rec.Status = AgentRunning
			resumeOwnerFromWaiting(s, rec, nowMs)
		}
		return true

	case *event.AgentWaiting:
		if rec := s.Agents[string(e.AgentID)]; rec != nil {
			rec.Status = AgentWaitingForInput
		}
		return true

	case *event.AgentPrompt:
		// Status stays Running; the decision created alongside this
		// signal (handled by the runtime) is what blocks progress.
		return true

	case *event.AgentExited:
		if rec := s.Agents[string(e.AgentID)]; rec != nil {
			rec.Status = AgentExited
		}
		return true

	case *event.AgentGone:
		if rec := s.Agents[string(e.AgentID)]; rec != nil {
			rec.Status = AgentGone
		}
		return true

	case *event.AgentFailed:
		if rec := s.Agents[string(e.AgentID)]; rec != nil {
			rec.Status = AgentFailed
		}
		return true

	case *event.AgentSignal:
		if e.Kind_ == event.SignalContinue {
			if rec := s.Agents[string(e.AgentID)]; rec != nil {
				resumeOwnerFromWaiting(s, rec, nowMs)
			}
		}
		return true

	default:
		return false
	}
}

// resumeOwnerFromWaiting moves rec's owner back to Running once the agent
// reports working (or signals an in-band continue) while the owner sits
// in Waiting: attempt budgets reset and the decision that parked the
// owner is auto-dismissed. Lives in the apply layer so a WAL replay of
// the same AgentWorking/AgentSignal reaches the same shape the live run
// did. Guarded by the stale-agent check: a signal from an agent that is
// no longer the owner's current one changes nothing.
func resumeOwnerFromWaiting(s *MaterializedState, rec *AgentRecord, nowMs int64) {
	if currentOwnerAgent(s, rec.Owner) != rec.ID {
		return
	}
	switch rec.Owner.Kind {
	case OwnerKindJob:
		job := s.Jobs[rec.Owner.ID]
		if job == nil || job.StepStatus.Phase != StepWaiting {
			return
		}
		job.StepStatus = StepStatus{Phase: StepRunning}
		job.ActionAttempts = make(map[string]int)
	case OwnerKindCrew:
		crew := s.Crew[rec.Owner.ID]
		if crew == nil || (crew.Status != CrewWaiting && crew.Status != CrewEscalated) {
			return
		}
		crew.Status = CrewRunning
		crew.ActionAttempts = make(map[string]int)
		crew.UpdatedAtMs = nowMs
	default:
		return
	}
	if d := unresolvedFor(s, rec.Owner); d != nil {
		d.Resolved = true
		d.ResolvedAtMs = nowMs
		d.Message = "auto-dismissed: agent resumed"
	}
}

// currentOwnerAgent is the agent id the owner's current step/run
// considers authoritative: events from any other agent are stale.
func currentOwnerAgent(s *MaterializedState, owner Owner) string {
	switch owner.Kind {
	case OwnerKindJob:
		job := s.Jobs[owner.ID]
		if job == nil {
			return ""
		}
		for i := len(job.StepHistory) - 1; i >= 0; i-- {
			if job.StepHistory[i].Step == job.Step {
				return job.StepHistory[i].AgentID
			}
		}
		return ""
	case OwnerKindCrew:
		if crew := s.Crew[owner.ID]; crew != nil {
			return crew.AgentID
		}
	}
	return ""
}
