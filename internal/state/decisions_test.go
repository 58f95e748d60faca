package state

import (
	"testing"

	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobOwner(t *testing.T, s *MaterializedState) (Owner, *Job) {
	t.Helper()
	jobID := string(ids.NewJobID())
	Apply(s, &event.JobCreated{ID: ids.JobID(jobID), Kind_: "k", Name: "n", Project: "proj"}, 0)
	job := s.Jobs[jobID]
	require.NotNil(t, job)
	return OwnerOfJob(jobID), job
}

// A repeated identical-specificity trigger (e.g. a second Idle ping) is
// a no-op: no second live decision is created, the owner stays Waiting
// on the original.
func TestDecisionDedupIdenticalSourceIsNoop(t *testing.T) {
	s := New()
	owner, job := newJobOwner(t, s)

	Apply(s, &event.DecisionCreated{ID: ids.NewDecisionID(), OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceIdle), CreatedAtMs: 1}, 1)
	first := job.StepStatus.DecisionID
	require.NotEmpty(t, first)

	Apply(s, &event.DecisionCreated{ID: ids.NewDecisionID(), OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceIdle), CreatedAtMs: 2}, 2)

	assert.Equal(t, first, job.StepStatus.DecisionID)
	live := 0
	for _, d := range s.Decisions {
		if d.Owner == owner && !d.Resolved && d.SupersededBy == "" {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

// A Question/Plan prompt supersedes a pending Approval:
// the Approval decision is marked superseded and the owner's Waiting
// DecisionID moves to the new one.
func TestDecisionQuestionSupersedesApproval(t *testing.T) {
	s := New()
	owner, job := newJobOwner(t, s)

	approvalID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: approvalID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceApproval), CreatedAtMs: 1}, 1)
	require.Equal(t, string(approvalID), job.StepStatus.DecisionID)

	questionID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: questionID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceQuestion), CreatedAtMs: 2}, 2)

	assert.Equal(t, string(questionID), job.StepStatus.DecisionID)
	assert.Equal(t, string(questionID), s.Decisions[string(approvalID)].SupersededBy)
	assert.Empty(t, s.Decisions[string(questionID)].SupersededBy)
}

// The reverse never happens: a fresh Approval cannot displace a pending
// Question/Plan (the dominance half of the
// supersession rule).
func TestDecisionApprovalNeverSupersedesQuestion(t *testing.T) {
	s := New()
	owner, job := newJobOwner(t, s)

	questionID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: questionID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceQuestion), CreatedAtMs: 1}, 1)

	approvalID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: approvalID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceApproval), CreatedAtMs: 2}, 2)

	assert.Equal(t, string(questionID), job.StepStatus.DecisionID)
	_, created := s.Decisions[string(approvalID)]
	assert.False(t, created, "a dominated DecisionCreated must never materialize a Decision row")
	assert.Empty(t, s.Decisions[string(questionID)].SupersededBy)
}

// A dominated/dropped DecisionCreated must never flip the owner to
// Waiting: setOwnerWaiting only runs for the decision that actually won
// (the supersession rule's atomicity requirement).
func TestDecisionDominatedNeverMovesOwnerToWaitingForIt(t *testing.T) {
	s := New()
	owner, job := newJobOwner(t, s)

	questionID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: questionID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceQuestion), CreatedAtMs: 1}, 1)
	require.Equal(t, StepWaiting, job.StepStatus.Phase)
	require.Equal(t, string(questionID), job.StepStatus.DecisionID)

	approvalID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: approvalID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceApproval), CreatedAtMs: 2}, 2)

	assert.Equal(t, StepWaiting, job.StepStatus.Phase)
	assert.Equal(t, string(questionID), job.StepStatus.DecisionID, "owner must stay Waiting on the decision that won, not the dropped one")
}

// DecisionResolved is idempotent and only takes effect on an unresolved
// decision.
func TestDecisionResolvedIsIdempotent(t *testing.T) {
	s := New()
	owner, _ := newJobOwner(t, s)

	decID := ids.NewDecisionID()
	Apply(s, &event.DecisionCreated{ID: decID, OwnerKind: string(owner.Kind), OwnerID: owner.ID, Source: string(SourceIdle), CreatedAtMs: 1}, 1)
	Apply(s, &event.DecisionResolved{ID: decID, Choices: []string{"yes"}, ResolvedAtMs: 2}, 2)
	require.True(t, s.Decisions[string(decID)].Resolved)

	Apply(s, &event.DecisionResolved{ID: decID, Choices: []string{"no"}, ResolvedAtMs: 3}, 3)
	assert.Equal(t, []string{"yes"}, s.Decisions[string(decID)].Choices, "a second resolution of an already-resolved decision must be a no-op")
}
