package state

import "github.com/ajlab/ojd/internal/event"

// DecisionSource is Decision.source.
type DecisionSource string

const (
	SourceIdle     DecisionSource = "Idle"
	SourceDead     DecisionSource = "Dead"
	SourceApproval DecisionSource = "Approval"
	SourceQuestion DecisionSource = "Question"
	SourcePlan     DecisionSource = "Plan"
)

// specificity ranks DecisionSource for the supersession rule (a new
// decision with a more-specific source auto-dismisses older unresolved
// ones for the same owner). Idle is the least specific signal; Dead
// outranks it; Question/Plan (the agent asked something concrete) outrank
// a generic Approval prompt, which must never displace them.
var specificity = map[DecisionSource]int{
	SourceIdle:     0,
	SourceDead:     1,
	SourceApproval: 2,
	SourceQuestion: 3,
	SourcePlan:     3,
}

// Decision is a pending human-in-the-loop gate.
type Decision struct {
	ID           string
	Owner        Owner
	AgentID      string
	Source       DecisionSource
	Context      string
	Options      []string
	Questions    []string
	Choices      []string
	Message      string
	Project      string
	CreatedAtMs  int64
	ResolvedAtMs int64
	Resolved     bool
	SupersededBy string
}

func applyDecisionEvent(s *MaterializedState, ev event.Event, nowMs int64) bool {
	switch e := ev.(type) {
	case *event.DecisionCreated:
		id := string(e.ID)
		owner := ownerFromKindID(e.OwnerKind, e.OwnerID)
		if _, exists := s.Decisions[id]; !exists {
			fresh := DecisionSource(e.Source)
			// A generic Approval must never displace a pending
			// Question/Plan, and a trigger no more specific than what's
			// already pending (including an identical repeat) is a
			// no-op rather than a fresh decision.
			if dominated(s, owner, fresh) {
				return true
			}
			d := &Decision{
				ID: id, Owner: owner, AgentID: e.AgentID, Source: fresh,
				Context: e.Context, Options: e.Options, Questions: e.Questions,
				Project: e.Project, CreatedAtMs: e.CreatedAtMs,
			}
			s.Decisions[id] = d
			supersedeOlder(s, owner, d)
		}
		setOwnerWaiting(s, owner, id, nowMs)
		return true

	case *event.DecisionResolved:
		d := s.Decisions[string(e.ID)]
		if d == nil || d.Resolved {
			return true
		}
		d.Resolved = true
		d.Choices = e.Choices
		d.Message = e.Message
		d.ResolvedAtMs = e.ResolvedAtMs
		setOwnerResumed(s, d, nowMs)
		return true

	default:
		return false
	}
}

// dominated reports whether owner already has a live (unresolved,
// unsuperseded) decision that fresh is not specific enough to replace,
// in which case the incoming DecisionCreated must be dropped entirely
// instead of creating a second live decision for the same owner (a more-specific
// prompt supersedes a pending Approval, the opposite is dropped, and an
// equally-specific repeat is a no-op).
func dominated(s *MaterializedState, owner Owner, fresh DecisionSource) bool {
	for _, d := range s.Decisions {
		if d.Owner == owner && !d.Resolved && d.SupersededBy == "" && !supersedes(fresh, d.Source) {
			return true
		}
	}
	return false
}

// supersedes reports whether a decision sourced from fresh is specific
// enough to replace one sourced from old. Strictly higher specificity
// wins; ties (including a source superseding itself) do not, so a
// repeated identical trigger never displaces the decision already live.
func supersedes(fresh, old DecisionSource) bool {
	return specificity[fresh] > specificity[old]
}

// supersedeOlder auto-dismisses older unresolved, unsuperseded decisions
// for owner now that fresh has passed the dominated() gate above: at
// that point fresh outranks every live decision it found, so all of them
// are superseded unconditionally (applied here so
// WAL replay reaches the same terminal shape regardless of handler
// dispatch order, per the "decision supersession happens at apply time"
// design).
func supersedeOlder(s *MaterializedState, owner Owner, fresh *Decision) {
	for id, d := range s.Decisions {
		if id == fresh.ID || d.Owner != owner || d.Resolved || d.SupersededBy != "" {
			continue
		}
		d.SupersededBy = fresh.ID
	}
}

// setOwnerWaiting moves owner into its Waiting shape once a live decision
// exists for it, whether this call just created that decision or is
// replaying one that already existed (a job/crew with a live
// decision sits in Waiting until it resolves).
func setOwnerWaiting(s *MaterializedState, owner Owner, decisionID string, nowMs int64) {
	switch owner.Kind {
	case OwnerKindJob:
		if job := s.Jobs[owner.ID]; job != nil {
			job.StepStatus = StepStatus{Phase: StepWaiting, DecisionID: decisionID}
		}
	case OwnerKindCrew:
		if crew := s.Crew[owner.ID]; crew != nil {
			crew.Status = CrewWaiting
			crew.UpdatedAtMs = nowMs
		}
	}
}

// setOwnerResumed transitions the owner back out of Waiting once the
// decision parking it is resolved, resetting its attempt budgets so the
// escalation cycle starts fresh. Runs here rather than in a handler so
// WAL replay of a DecisionResolved reaches the same owner shape as the
// live resolution did. A resolution of a stale decision (owner already
// waiting on a newer one) changes nothing.
func setOwnerResumed(s *MaterializedState, d *Decision, nowMs int64) {
	switch d.Owner.Kind {
	case OwnerKindJob:
		job := s.Jobs[d.Owner.ID]
		if job == nil || job.StepStatus.Phase != StepWaiting || job.StepStatus.DecisionID != d.ID {
			return
		}
		job.StepStatus = StepStatus{Phase: StepRunning}
		job.ActionAttempts = make(map[string]int)
	case OwnerKindCrew:
		crew := s.Crew[d.Owner.ID]
		if crew == nil || (crew.Status != CrewWaiting && crew.Status != CrewEscalated) {
			return
		}
		crew.Status = CrewRunning
		crew.ActionAttempts = make(map[string]int)
		crew.UpdatedAtMs = nowMs
	}
}

// cleanupUnresolvedDecisions marks every unresolved, unsuperseded decision
// owned by owner as superseded once owner reaches a terminal status (a job/crew cannot progress while any decision it owns is unresolved, so
// terminal owners must not leave dangling open decisions).
func cleanupUnresolvedDecisions(s *MaterializedState, owner Owner, nowMs int64) {
	for _, d := range s.Decisions {
		if d.Owner == owner && !d.Resolved && d.SupersededBy == "" {
			d.Resolved = true
			d.ResolvedAtMs = nowMs
			d.Message = "auto-dismissed: owner reached terminal status"
		}
	}
}

// unresolvedFor reports the live (non-superseded, unresolved) decision for
// owner, if any. An owner can have at most one at a time once
// supersedeOlder has run.
func unresolvedFor(s *MaterializedState, owner Owner) *Decision {
	for _, d := range s.Decisions {
		if d.Owner == owner && !d.Resolved && d.SupersededBy == "" {
			return d
		}
	}
	return nil
}

// UnresolvedDecisionFor is the runtime package's entry point for the
// dedup/guard rules: it reads the single live decision (if any)
// blocking owner's progress. Callers hold the state lock the same way
// the rest of Dispatch does.
func UnresolvedDecisionFor(s *MaterializedState, owner Owner) *Decision {
	return unresolvedFor(s, owner)
}
