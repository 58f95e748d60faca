package state

import (
	"github.com/ajlab/ojd/internal/event"
)

// StepStatus is the job's current step status.
type StepStatus struct {
	Phase      StepPhase
	DecisionID string // populated when Phase == StepWaiting
}

type StepPhase string

const (
	StepPending   StepPhase = "pending"
	StepRunning   StepPhase = "running"
	StepWaiting   StepPhase = "waiting"
	StepCompleted StepPhase = "completed"
	StepFailed    StepPhase = "failed"
)

// TerminalSteps are the four reserved terminal step names.
var TerminalSteps = map[string]bool{
	"done":      true,
	"failed":    true,
	"cancelled": true,
	"suspended": true,
}

// IsTerminalStep reports whether step is one of the four reserved names.
func IsTerminalStep(step string) bool { return TerminalSteps[step] }

// StepHistoryRecord is one ordered entry in a job's step history.
type StepHistoryRecord struct {
	Step      string
	Outcome   StepPhase // Completed or Failed
	AgentID   string
	AgentName string
	AtMs      int64
	Error     string
}

// Job is the daemon's multi-step execution entity.
type Job struct {
	ID             string
	KindName       string
	Name           string
	Project        string
	Cwd            string
	RunbookHash    string
	Vars           map[string]string
	Step           string
	StepStatus     StepStatus
	StepHistory    []StepHistoryRecord
	StepVisits     map[string]uint32
	ActionAttempts map[string]int // action-key -> attempts consumed this cycle
	WorkspaceID    string
	WorkspacePath  string
	SessionID      string
	Error          string
	Cancelling     bool
	CronName       string
	CreatedAtMs    int64
}

// IsTerminal reports whether the job's step is one of the terminal
// names, matching the invariant "is_terminal <=> step in terminal-set".
func (j *Job) IsTerminal() bool { return IsTerminalStep(j.Step) }

func newJob(e *event.JobCreated) *Job {
	return &Job{
		ID:             string(e.ID),
		KindName:       e.Kind_,
		Name:           e.Name,
		Project:        e.Project,
		Cwd:            e.Cwd,
		RunbookHash:    e.RunbookHash,
		Vars:           copyMap(e.Vars),
		Step:           "",
		StepStatus:     StepStatus{Phase: StepPending},
		StepVisits:     make(map[string]uint32),
		ActionAttempts: make(map[string]int),
		CronName:       e.CronName,
		CreatedAtMs:    e.CreatedAtMs,
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyJobEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.JobCreated:
		id := string(e.ID)
		if _, exists := s.Jobs[id]; exists {
			return true // idempotent: JobCreated re-applied is a no-op
		}
		s.Jobs[id] = newJob(e)
		return true

	case *event.JobAdvanced:
		job := s.Jobs[string(e.ID)]
		if job == nil {
			return true
		}
		if job.Step == e.Step {
			return true // idempotent re-application
		}
		// Success transitions reset attempt counters and visit marks;
		// on_fail transitions preserve them so retry budgets bound the
		// whole cycle, not each step.
		if job.StepStatus.Phase == StepCompleted || job.Step == "" {
			job.ActionAttempts = make(map[string]int)
			job.StepVisits = make(map[string]uint32)
		}
		job.Step = e.Step
		job.StepStatus = StepStatus{Phase: StepPending}
		job.StepVisits[e.Step]++
		return true

	case *event.StepStarted:
		job := s.Jobs[string(e.JobID)]
		if job == nil {
			return true
		}
		job.StepStatus = StepStatus{Phase: StepRunning}
		if e.AgentName != "" {
			if n := len(job.StepHistory); n > 0 && job.StepHistory[n-1].Step == e.Step && job.StepHistory[n-1].Outcome == "" {
				return true // re-application: the open record already exists
			}
			// AgentID is not yet known: SpawnAgent is deferred, so
			// the record is appended blank and patched by AgentSpawned
			// (applyAgentEvent) once the spawn completes.
			job.StepHistory = append(job.StepHistory, StepHistoryRecord{
				Step: e.Step, AgentID: e.AgentID, AgentName: e.AgentName,
			})
		}
		return true

	case *event.StepCompleted:
		job := s.Jobs[string(e.JobID)]
		if job == nil {
			return true
		}
		if job.StepStatus.Phase == StepCompleted {
			return true
		}
		job.StepStatus = StepStatus{Phase: StepCompleted}
		// A transition into "done" re-emits the StepCompleted its caller
		// already recorded; the terminal job keeps that single record.
		if n := len(job.StepHistory); job.IsTerminal() && n > 0 &&
			job.StepHistory[n-1].Step == e.Step && job.StepHistory[n-1].Outcome == StepCompleted {
			return true
		}
		job.StepHistory = appendOutcome(job.StepHistory, e.Step, StepCompleted, "")
		return true

	case *event.StepFailed:
		job := s.Jobs[string(e.JobID)]
		if job == nil {
			return true
		}
		if job.StepStatus.Phase == StepFailed {
			return true
		}
		job.StepStatus = StepStatus{Phase: StepFailed}
		job.Error = e.Error
		job.StepHistory = appendOutcome(job.StepHistory, e.Step, StepFailed, e.Error)
		return true

	case *event.JobCancelling:
		job := s.Jobs[string(e.ID)]
		if job == nil {
			return true
		}
		job.Cancelling = true
		return true

	case *event.JobResume:
		// The resume transition itself is driven by the runtime handler;
		// only the var overrides are a direct state change.
		job := s.Jobs[string(e.ID)]
		if job != nil {
			for k, v := range e.Vars {
				job.Vars[k] = v
			}
		}
		return true

	case *event.JobSuspending:
		// No dedicated flag today; step transition to "suspended" (a
		// terminal step) records the outcome. Kept as its own event for
		// observability symmetry with JobCancelling.
		return true

	case *event.JobDeleted:
		delete(s.Jobs, string(e.ID))
		return true

	default:
		return false
	}
}

// appendOutcome records a step's terminal outcome in history, replacing
// a prior pending entry for the same step rather than duplicating it
// (idempotent re-application of StepCompleted/StepFailed).
func appendOutcome(hist []StepHistoryRecord, step string, outcome StepPhase, errMsg string) []StepHistoryRecord {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Step == step && hist[i].Outcome == "" {
			hist[i].Outcome = outcome
			hist[i].Error = errMsg
			return hist
		}
	}
	return append(hist, StepHistoryRecord{Step: step, Outcome: outcome, Error: errMsg})
}
