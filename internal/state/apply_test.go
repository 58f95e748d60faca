package state

import (
	"testing"

	"github.com/ajlab/ojd/internal/event"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveSequence applies a representative cross-module sequence of
// events to s, returning the job/agent/decision IDs used so the caller
// can re-derive them for a repeat pass.
type sequenceIDs struct {
	jobID     ids.JobID
	agentID   ids.AgentID
	decID     ids.DecisionID
}

func driveSequence(s *MaterializedState, seq sequenceIDs) {
	Apply(s, &event.JobCreated{ID: seq.jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: "h1", CreatedAtMs: 1}, 1)
	Apply(s, &event.JobAdvanced{ID: seq.jobID, Step: "run"}, 1)
	Apply(s, &event.StepStarted{JobID: seq.jobID, Step: "run", AgentID: "", AgentName: "helper"}, 1)
	Apply(s, &event.AgentSpawned{AgentID: seq.agentID, OwnerKind: "job", OwnerID: string(seq.jobID), AgentName: "helper", Project: "proj", Runtime: "coop"}, 2)
	Apply(s, &event.DecisionCreated{ID: seq.decID, AgentID: string(seq.agentID), OwnerKind: "job", OwnerID: string(seq.jobID), Source: string(SourceIdle), CreatedAtMs: 3}, 3)
	Apply(s, &event.DecisionResolved{ID: seq.decID, Choices: []string{"go"}, ResolvedAtMs: 4}, 4)
	Apply(s, &event.JobAdvanced{ID: seq.jobID, Step: "done"}, 5)
}

// TestApplyIsIdempotentAcrossAWholeSequence drives the same sequence of
// events into two independent states -- once straight through, once
// with every event re-applied a second time immediately after its first
// application -- and asserts the two states converge to the same
// snapshot (re-applying the same event yields the same
// state).
func TestApplyIsIdempotentAcrossAWholeSequence(t *testing.T) {
	seq := sequenceIDs{jobID: ids.NewJobID(), agentID: ids.NewAgentID(), decID: ids.NewDecisionID()}

	straight := New()
	driveSequence(straight, seq)

	doubled := New()
	events := []struct {
		ev    event.Event
		nowMs int64
	}{
		{&event.JobCreated{ID: seq.jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: "h1", CreatedAtMs: 1}, 1},
		{&event.JobAdvanced{ID: seq.jobID, Step: "run"}, 1},
		{&event.StepStarted{JobID: seq.jobID, Step: "run", AgentName: "helper"}, 1},
		{&event.AgentSpawned{AgentID: seq.agentID, OwnerKind: "job", OwnerID: string(seq.jobID), AgentName: "helper", Project: "proj", Runtime: "coop"}, 2},
		{&event.DecisionCreated{ID: seq.decID, AgentID: string(seq.agentID), OwnerKind: "job", OwnerID: string(seq.jobID), Source: string(SourceIdle), CreatedAtMs: 3}, 3},
		{&event.DecisionResolved{ID: seq.decID, Choices: []string{"go"}, ResolvedAtMs: 4}, 4},
		{&event.JobAdvanced{ID: seq.jobID, Step: "done"}, 5},
	}
	for _, e := range events {
		Apply(doubled, e.ev, e.nowMs)
		Apply(doubled, e.ev, e.nowMs) // replay the exact same event a second time
	}

	assertSnapshotsEqual(t, straight.Export(), doubled.Export())
}

// TestApplyJobCreatedTwiceIsANoop targets the narrowest form of the
// idempotent-apply law directly on one event.
func TestApplyJobCreatedTwiceIsANoop(t *testing.T) {
	s := New()
	jobID := ids.NewJobID()
	ev := &event.JobCreated{ID: jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: "h1", CreatedAtMs: 1}

	Apply(s, ev, 1)
	before := s.Export()
	Apply(s, ev, 1)
	after := s.Export()

	assertSnapshotsEqual(t, before, after)
}

// TestApplyStepCompletedTwiceIsANoop exercises the same law for a
// StepCompleted replay once a job already reached that outcome.
func TestApplyStepCompletedTwiceIsANoop(t *testing.T) {
	s := New()
	jobID := ids.NewJobID()
	Apply(s, &event.JobCreated{ID: jobID, Kind_: "build", Name: "build", Project: "proj", Cwd: "/tmp", RunbookHash: "h1"}, 1)
	Apply(s, &event.JobAdvanced{ID: jobID, Step: "run"}, 1)

	ev := &event.StepCompleted{JobID: jobID, Step: "run"}
	Apply(s, ev, 2)
	job := s.Jobs[string(jobID)]
	require.Len(t, job.StepHistory, 1)

	Apply(s, ev, 2)
	assert.Len(t, job.StepHistory, 1, "a replayed StepCompleted must not duplicate the history record")
}

func assertSnapshotsEqual(t *testing.T, a, b Snapshot) {
	t.Helper()
	assert.Equal(t, a.Jobs, b.Jobs)
	assert.Equal(t, a.Crew, b.Crew)
	assert.Equal(t, a.Agents, b.Agents)
	assert.Equal(t, a.Workspaces, b.Workspaces)
	assert.Equal(t, a.Workers, b.Workers)
	assert.Equal(t, a.Crons, b.Crons)
	assert.Equal(t, a.Decisions, b.Decisions)
	assert.Equal(t, a.QueueItems, b.QueueItems)
	assert.Equal(t, a.ProjectPaths, b.ProjectPaths)
}
