// Package effect defines the non-serializable Effect union
// consumed by the executor. Effects are produced by pure handler
// functions and describe a side effect without performing it.
package effect

import (
	"time"

	"github.com/ajlab/ojd/internal/event"
)

// Effect is implemented by every effect variant.
type Effect interface {
	effectMarker()
}

type base struct{}

func (base) effectMarker() {}

// Emit appends ev to the WAL and applies it to state.
type Emit struct {
	base
	Event event.Event
}

// SetTimer (re)schedules TimerId to fire TimerStart{id} after Duration.
// Resetting an existing timer cancels the prior one.
type SetTimer struct {
	base
	ID       string
	Duration time.Duration
}

// CancelTimer drops a pending timer, if any. Idempotent.
type CancelTimer struct {
	base
	ID string
}

// SpawnAgent is deferred: the executor registers the request, returns
// nil immediately, and completes the spawn on a background task.
type SpawnAgent struct {
	base
	OwnerKind     string
	OwnerID       string
	AgentName     string
	HostKind      string // runbook agent.kind: the agent-host's --agent argument
	Project       string
	Cwd           string
	WorkspacePath string
	Runtime       string // "coop" | "docker" | "k8s"
	Resume        *ResumeHint
	StopMode      string // allow | gate | auto, derived from on_idle
	Prime         string // optional start prime
}

// ResumeHint carries the prior agent's workspace/session identity so a
// resumed agent can pick up the same conversation.
type ResumeHint struct {
	WorkspacePath string
	SessionID     string
}

// SendToAgent delivers input text to a running agent (deferred).
type SendToAgent struct {
	base
	AgentID string
	Input   string
}

// KillAgent terminates an agent process (deferred, fire-and-forget).
type KillAgent struct {
	base
	AgentID string
}

// Shell fires a subprocess for a job step; its exit produces a
// ShellExited event.
type Shell struct {
	base
	Owner     string
	Step      string
	Command   string
	Cwd       string
	Env       map[string]string
	Container string
}

// PollQueue runs an external queue's list command.
type PollQueue struct {
	base
	WorkerName  string
	Project     string
	ListCommand string
	Cwd         string
}

// CreateWorkspace background-provisions a workspace whose
// WorkspaceCreated its producer has already emitted, then emits
// WorkspaceReady or WorkspaceFailed.
type CreateWorkspace struct {
	base
	ID      string
	Path    string // precomputed deterministically so the caller can use it before WorkspaceCreated lands
	Owner   string
	Type    string // "folder" | "worktree"
	Project string
	Cwd     string
	Branch  string
}

// DeleteWorkspace background-removes an already-Cleaning workspace and
// emits WorkspaceDeleted.
type DeleteWorkspace struct {
	base
	ID   string
	Path string
}

// Notify is a best-effort desktop notification.
type Notify struct {
	base
	Title   string
	Message string
}
