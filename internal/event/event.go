// Package event defines the daemon's Event tagged union: every
// externally observable state change is one of these variants, appended
// to the WAL and applied to MaterializedState. Event is WAL-serializable;
// its counterpart, effect.Effect, is not.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/ajlab/ojd/internal/ids"
)

// Event is implemented by every event variant. Kind is the WAL
// discriminator string.
type Event interface {
	Kind() string
}

// Envelope is the self-describing WAL record wrapping one Event as a
// tagged JSON payload.
type Envelope struct {
	Seq     uint64          `json:"seq"`
	AtMs    int64           `json:"at_ms"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals ev into payload bytes tagged with its Kind.
func Encode(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: encode %s: %w", ev.Kind(), err)
	}
	return Envelope{Kind: ev.Kind(), Payload: payload}, nil
}

// Decode unmarshals env.Payload into the concrete Event type registered
// for env.Kind.
func Decode(env Envelope) (Event, error) {
	factory, ok := registry[env.Kind]
	if !ok {
		return nil, fmt.Errorf("event: unknown kind %q", env.Kind)
	}
	ev := factory()
	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", env.Kind, err)
	}
	return ev, nil
}

var registry = map[string]func() Event{}

func register(kind string, factory func() Event) {
	registry[kind] = factory
}

// --- Runbook ---

// RunbookLoaded is a no-op if its hash is already present: runbooks
// are content-addressed.
type RunbookLoaded struct {
	Hash    string `json:"hash"`
	Path    string `json:"path"`
	Project string `json:"project"`
}

func (RunbookLoaded) Kind() string { return "RunbookLoaded" }

func init() { register("RunbookLoaded", func() Event { return &RunbookLoaded{} }) }

// --- Jobs ---

type JobCreated struct {
	ID          ids.JobID         `json:"id"`
	Kind_       string            `json:"kind"`
	Name        string            `json:"name"`
	Project     string            `json:"project"`
	Cwd         string            `json:"cwd"`
	RunbookHash string            `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`
	CronName    string            `json:"cron_name,omitempty"`
	CreatedAtMs int64             `json:"created_at_ms"`
}

func (JobCreated) Kind() string { return "JobCreated" }

type JobAdvanced struct {
	ID   ids.JobID `json:"id"`
	Step string    `json:"step"`
}

func (JobAdvanced) Kind() string { return "JobAdvanced" }

type StepStarted struct {
	JobID     ids.JobID `json:"job_id"`
	Step      string    `json:"step"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
}

func (StepStarted) Kind() string { return "StepStarted" }

type StepCompleted struct {
	JobID ids.JobID `json:"job_id"`
	Step  string    `json:"step"`
}

func (StepCompleted) Kind() string { return "StepCompleted" }

type StepFailed struct {
	JobID ids.JobID `json:"job_id"`
	Step  string    `json:"step"`
	Error string    `json:"error"`
}

func (StepFailed) Kind() string { return "StepFailed" }

type JobCancelling struct {
	ID ids.JobID `json:"id"`
}

func (JobCancelling) Kind() string { return "JobCancelling" }

type JobSuspending struct {
	ID ids.JobID `json:"id"`
}

func (JobSuspending) Kind() string { return "JobSuspending" }

type JobDeleted struct {
	ID ids.JobID `json:"id"`
}

func (JobDeleted) Kind() string { return "JobDeleted" }

// JobResume, JobCancel, JobSuspend are client-initiated requests that
// enter the runtime as events; client writes never mutate state
// directly.
type JobResume struct {
	ID      ids.JobID         `json:"id"`
	Message string            `json:"message,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
	Kill    bool              `json:"kill,omitempty"`
}

func (JobResume) Kind() string { return "JobResume" }

type JobCancel struct {
	ID ids.JobID `json:"id"`
}

func (JobCancel) Kind() string { return "JobCancel" }

type JobSuspend struct {
	ID ids.JobID `json:"id"`
}

func (JobSuspend) Kind() string { return "JobSuspend" }

func init() {
	register("JobCreated", func() Event { return &JobCreated{} })
	register("JobAdvanced", func() Event { return &JobAdvanced{} })
	register("StepStarted", func() Event { return &StepStarted{} })
	register("StepCompleted", func() Event { return &StepCompleted{} })
	register("StepFailed", func() Event { return &StepFailed{} })
	register("JobCancelling", func() Event { return &JobCancelling{} })
	register("JobSuspending", func() Event { return &JobSuspending{} })
	register("JobDeleted", func() Event { return &JobDeleted{} })
	register("JobResume", func() Event { return &JobResume{} })
	register("JobCancel", func() Event { return &JobCancel{} })
	register("JobSuspend", func() Event { return &JobSuspend{} })
}

// --- Crew (standalone agent runs) ---

type CrewCreated struct {
	ID          ids.CrewID        `json:"id"`
	AgentName   string            `json:"agent_name"`
	CommandName string            `json:"command_name"`
	Project     string            `json:"project"`
	Cwd         string            `json:"cwd"`
	RunbookHash string            `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`
	CronName    string            `json:"cron_name,omitempty"`
	CreatedAtMs int64             `json:"created_at_ms"`
}

func (CrewCreated) Kind() string { return "CrewCreated" }

type CrewStarted struct {
	ID      ids.CrewID  `json:"id"`
	AgentID ids.AgentID `json:"agent_id"`
}

func (CrewStarted) Kind() string { return "CrewStarted" }

type CrewUpdated struct {
	ID     ids.CrewID `json:"id"`
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

func (CrewUpdated) Kind() string { return "CrewUpdated" }

type CrewDeleted struct {
	ID ids.CrewID `json:"id"`
}

func (CrewDeleted) Kind() string { return "CrewDeleted" }

func init() {
	register("CrewCreated", func() Event { return &CrewCreated{} })
	register("CrewStarted", func() Event { return &CrewStarted{} })
	register("CrewUpdated", func() Event { return &CrewUpdated{} })
	register("CrewDeleted", func() Event { return &CrewDeleted{} })
}

// --- Agents (agent host signals) ---

type AgentSpawned struct {
	AgentID       ids.AgentID `json:"agent_id"`
	OwnerKind     string      `json:"owner_kind"`
	OwnerID       string      `json:"owner_id"`
	AgentName     string      `json:"agent_name"`
	Project       string      `json:"project"`
	WorkspacePath string      `json:"workspace_path"`
	Runtime       string      `json:"runtime"`
	SessionID     string      `json:"session_id,omitempty"`
}

func (AgentSpawned) Kind() string { return "AgentSpawned" }

type AgentSpawnFailed struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	Reason    string `json:"reason"`
}

func (AgentSpawnFailed) Kind() string { return "AgentSpawnFailed" }

type AgentWorking struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentWorking) Kind() string { return "AgentWorking" }

type AgentWaiting struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentWaiting) Kind() string { return "AgentWaiting" }

// PromptKind enumerates the structured prompt types an agent host can
// raise.
type PromptKind string

const (
	PromptApproval PromptKind = "approval"
	PromptQuestion PromptKind = "question"
	PromptPlan     PromptKind = "plan"
)

type AgentPrompt struct {
	AgentID   ids.AgentID `json:"agent_id"`
	Type      PromptKind  `json:"type"`
	Context   string      `json:"context"`
	Options   []string    `json:"options,omitempty"`
	Questions []string    `json:"questions,omitempty"`
}

func (AgentPrompt) Kind() string { return "AgentPrompt" }

type AgentExited struct {
	AgentID ids.AgentID `json:"agent_id"`
	Code    int         `json:"code"`
}

func (AgentExited) Kind() string { return "AgentExited" }

type AgentGone struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentGone) Kind() string { return "AgentGone" }

type AgentFailed struct {
	AgentID ids.AgentID `json:"agent_id"`
	Reason  string      `json:"reason"`
}

func (AgentFailed) Kind() string { return "AgentFailed" }

// SignalKind enumerates AgentSignal.kind.
type SignalKind string

const (
	SignalContinue SignalKind = "continue"
	SignalComplete SignalKind = "complete"
	SignalEscalate SignalKind = "escalate"
)

type AgentSignal struct {
	AgentID ids.AgentID `json:"agent_id"`
	Kind_   SignalKind  `json:"kind"`
	Message string      `json:"message,omitempty"`
}

func (AgentSignal) Kind() string { return "AgentSignal" }

func init() {
	register("AgentSpawned", func() Event { return &AgentSpawned{} })
	register("AgentSpawnFailed", func() Event { return &AgentSpawnFailed{} })
	register("AgentWorking", func() Event { return &AgentWorking{} })
	register("AgentWaiting", func() Event { return &AgentWaiting{} })
	register("AgentPrompt", func() Event { return &AgentPrompt{} })
	register("AgentExited", func() Event { return &AgentExited{} })
	register("AgentGone", func() Event { return &AgentGone{} })
	register("AgentFailed", func() Event { return &AgentFailed{} })
	register("AgentSignal", func() Event { return &AgentSignal{} })
}

// --- Workspaces ---

type WorkspaceCreated struct {
	ID     ids.WorkspaceID `json:"id"`
	Path   string          `json:"path"`
	Branch string          `json:"branch,omitempty"`
	Owner  string          `json:"owner"`
	Type   string          `json:"type"`
}

func (WorkspaceCreated) Kind() string { return "WorkspaceCreated" }

type WorkspaceReady struct {
	ID ids.WorkspaceID `json:"id"`
}

func (WorkspaceReady) Kind() string { return "WorkspaceReady" }

type WorkspaceFailed struct {
	ID     ids.WorkspaceID `json:"id"`
	Reason string          `json:"reason"`
}

func (WorkspaceFailed) Kind() string { return "WorkspaceFailed" }

// WorkspaceCleaning marks the workspace for removal; the runtime reacts
// by issuing the DeleteWorkspace effect, whose background removal lands
// WorkspaceDeleted.
type WorkspaceCleaning struct {
	ID ids.WorkspaceID `json:"id"`
}

func (WorkspaceCleaning) Kind() string { return "WorkspaceCleaning" }

type WorkspaceDeleted struct {
	ID ids.WorkspaceID `json:"id"`
}

func (WorkspaceDeleted) Kind() string { return "WorkspaceDeleted" }

func init() {
	register("WorkspaceCreated", func() Event { return &WorkspaceCreated{} })
	register("WorkspaceReady", func() Event { return &WorkspaceReady{} })
	register("WorkspaceCleaning", func() Event { return &WorkspaceCleaning{} })
	register("WorkspaceFailed", func() Event { return &WorkspaceFailed{} })
	register("WorkspaceDeleted", func() Event { return &WorkspaceDeleted{} })
}

// --- Shell ---

type ShellExited struct {
	Owner    string `json:"owner"`
	Step     string `json:"step"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

func (ShellExited) Kind() string { return "ShellExited" }

func init() { register("ShellExited", func() Event { return &ShellExited{} }) }

// --- Workers & Queues ---

type WorkerStarted struct {
	Name          string `json:"name"`
	Project       string `json:"project"`
	ProjectPath   string `json:"project_path"`
	RunbookHash   string `json:"runbook_hash"`
	Concurrency   int    `json:"concurrency"`
	QueueName     string `json:"queue_name"`
	QueueType     string `json:"queue_type"`
	JobKind       string `json:"job_kind"`
	RetryAttempts int    `json:"retry_attempts"`
	RetryCooldown string `json:"retry_cooldown"`
}

func (WorkerStarted) Kind() string { return "WorkerStarted" }

type WorkerStopped struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

func (WorkerStopped) Kind() string { return "WorkerStopped" }

type WorkerWake struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

func (WorkerWake) Kind() string { return "WorkerWake" }

type PolledItem struct {
	ID   string            `json:"id"`
	Data map[string]string `json:"data"`
}

type WorkerPollComplete struct {
	Name    string       `json:"name"`
	Project string       `json:"project"`
	Items   []PolledItem `json:"items"`
}

func (WorkerPollComplete) Kind() string { return "WorkerPollComplete" }

type QueuePushed struct {
	Queue    string            `json:"queue"`
	Project  string            `json:"project"`
	ItemID   string            `json:"item_id"`
	Data     map[string]string `json:"data"`
	PushedAt int64             `json:"pushed_at_ms"`
}

func (QueuePushed) Kind() string { return "QueuePushed" }

type QueueTaken struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
	Worker  string `json:"worker"`
}

func (QueueTaken) Kind() string { return "QueueTaken" }

type WorkerItemDispatched struct {
	Worker  string `json:"worker"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
	Owner   string `json:"owner_id"`
	Kind_   string `json:"owner_kind"`
}

func (WorkerItemDispatched) Kind() string { return "WorkerItemDispatched" }

type QueueCompleted struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
}

func (QueueCompleted) Kind() string { return "QueueCompleted" }

type QueueFailed struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
	Reason  string `json:"reason"`
}

func (QueueFailed) Kind() string { return "QueueFailed" }

type QueueItemRetry struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
}

func (QueueItemRetry) Kind() string { return "QueueItemRetry" }

type QueueItemDead struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
}

func (QueueItemDead) Kind() string { return "QueueItemDead" }

type QueueDropped struct {
	Queue   string `json:"queue"`
	Project string `json:"project"`
	ItemID  string `json:"item_id"`
}

func (QueueDropped) Kind() string { return "QueueDropped" }

func init() {
	register("WorkerStarted", func() Event { return &WorkerStarted{} })
	register("WorkerStopped", func() Event { return &WorkerStopped{} })
	register("WorkerWake", func() Event { return &WorkerWake{} })
	register("WorkerPollComplete", func() Event { return &WorkerPollComplete{} })
	register("QueuePushed", func() Event { return &QueuePushed{} })
	register("QueueTaken", func() Event { return &QueueTaken{} })
	register("WorkerItemDispatched", func() Event { return &WorkerItemDispatched{} })
	register("QueueCompleted", func() Event { return &QueueCompleted{} })
	register("QueueFailed", func() Event { return &QueueFailed{} })
	register("QueueItemRetry", func() Event { return &QueueItemRetry{} })
	register("QueueItemDead", func() Event { return &QueueItemDead{} })
	register("QueueDropped", func() Event { return &QueueDropped{} })
}

// --- Cron ---

type CronStarted struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	ProjectPath string `json:"project_path"`
	RunbookHash string `json:"runbook_hash"`
	Interval    string `json:"interval"`
	TargetKind  string `json:"target_kind"`
	TargetName  string `json:"target_name"`
	Concurrency int    `json:"concurrency"`
}

func (CronStarted) Kind() string { return "CronStarted" }

type CronStopped struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

func (CronStopped) Kind() string { return "CronStopped" }

type CronFired struct {
	Cron    string `json:"cron"`
	Owner   string `json:"owner_id"`
	Project string `json:"project"`
}

func (CronFired) Kind() string { return "CronFired" }

// CronOnce is idempotent by owner-id: a re-delivered CronOnce for
// an existing job/crew is a no-op.
type CronOnce struct {
	Cron    string `json:"cron"`
	Project string `json:"project"`
	OwnerID string `json:"owner_id"`
}

func (CronOnce) Kind() string { return "CronOnce" }

func init() {
	register("CronStarted", func() Event { return &CronStarted{} })
	register("CronStopped", func() Event { return &CronStopped{} })
	register("CronFired", func() Event { return &CronFired{} })
	register("CronOnce", func() Event { return &CronOnce{} })
}

// --- Decisions ---

type DecisionCreated struct {
	ID          ids.DecisionID `json:"id"`
	AgentID     string         `json:"agent_id"`
	OwnerKind   string         `json:"owner_kind"`
	OwnerID     string         `json:"owner_id"`
	Source      string         `json:"source"`
	Context     string         `json:"context"`
	Options     []string       `json:"options,omitempty"`
	Questions   []string       `json:"questions,omitempty"`
	CreatedAtMs int64          `json:"created_at_ms"`
	Project     string         `json:"project"`
}

func (DecisionCreated) Kind() string { return "DecisionCreated" }

type DecisionResolved struct {
	ID           ids.DecisionID `json:"id"`
	Choices      []string       `json:"choices"`
	Message      string         `json:"message,omitempty"`
	ResolvedAtMs int64          `json:"resolved_at_ms"`
}

func (DecisionResolved) Kind() string { return "DecisionResolved" }

// DecisionResolve is the client request: DecisionResolve{id,
// choices, message} emits DecisionResolved once accepted.
type DecisionResolve struct {
	ID      ids.DecisionID `json:"id"`
	Choices []string       `json:"choices"`
	Message string         `json:"message,omitempty"`
}

func (DecisionResolve) Kind() string { return "DecisionResolve" }

func init() {
	register("DecisionCreated", func() Event { return &DecisionCreated{} })
	register("DecisionResolved", func() Event { return &DecisionResolved{} })
	register("DecisionResolve", func() Event { return &DecisionResolve{} })
}

// --- Control ---

// TimerKind tags the purpose encoded in a TimerId string.
type TimerKind string

const (
	TimerLiveness     TimerKind = "liveness"
	TimerExitDeferred TimerKind = "exit_deferred"
	TimerCooldown     TimerKind = "cooldown"
	TimerQueueRetry   TimerKind = "queue_retry"
	TimerCron         TimerKind = "cron"
	TimerQueuePoll    TimerKind = "queue_poll"
)

type TimerStart struct {
	ID string `json:"id"`
}

func (TimerStart) Kind() string { return "TimerStart" }

type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

func (Shutdown) Kind() string { return "Shutdown" }

// CommandRun persists the project -> project_path mapping the first time
// a command namespace is touched.
type CommandRun struct {
	Project     string `json:"project"`
	ProjectPath string `json:"project_path"`
	Command     string `json:"command"`
}

func (CommandRun) Kind() string { return "CommandRun" }

func init() {
	register("TimerStart", func() Event { return &TimerStart{} })
	register("Shutdown", func() Event { return &Shutdown{} })
	register("CommandRun", func() Event { return &CommandRun{} })
}
