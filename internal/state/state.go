// Package state owns MaterializedState: the in-memory projection built
// by applying events. Every query the Listener serves is a pure
// function of this structure; every mutation flows through Apply, which
// must be idempotent (re-applying the same event yields the same
// state).
package state

import (
	"sync"

	"github.com/ajlab/ojd/internal/runbook"
)

// MaterializedState is the full in-memory projection of the event log.
// All exported maps are keyed by the entity's full string ID.
type MaterializedState struct {
	mu sync.RWMutex

	Jobs       map[string]*Job
	Crew       map[string]*Crew
	Agents     map[string]*AgentRecord
	Workspaces map[string]*Workspace
	Workers    map[string]*Worker
	Crons      map[string]*Cron
	Decisions  map[string]*Decision

	// QueueItems is keyed by "project/queue" (a "scoped name"), each
	// holding that queue's items keyed by item ID.
	QueueItems map[string]map[string]*QueueItem

	// ProjectPaths maps a project namespace to its filesystem root,
	// recorded the first time a command runs in it.
	ProjectPaths map[string]string

	Runbooks *runbook.Cache

	// Non-persistent, runtime-only caches, explicitly excluded from the
	// "no hidden state" invariant's scope.
	PollMeta map[string]PollMeta
}

// PollMeta is a non-persistent cache of the last poll outcome for a
// scoped queue name, used only for status/debugging output.
type PollMeta struct {
	LastItemCount  int
	LastPolledAtMs int64
}

// New returns an empty MaterializedState.
func New() *MaterializedState {
	return &MaterializedState{
		Jobs:         make(map[string]*Job),
		Crew:         make(map[string]*Crew),
		Agents:       make(map[string]*AgentRecord),
		Workspaces:   make(map[string]*Workspace),
		Workers:      make(map[string]*Worker),
		Crons:        make(map[string]*Cron),
		Decisions:    make(map[string]*Decision),
		QueueItems:   make(map[string]map[string]*QueueItem),
		ProjectPaths: make(map[string]string),
		Runbooks:     runbook.NewCache(),
		PollMeta:     make(map[string]PollMeta),
	}
}

// View runs fn with the read lock held, for read-only queries from the
// Listener: snapshot the fields needed, release, reply.
func (s *MaterializedState) View(fn func(*MaterializedState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

// Mutate runs fn with the write lock held. Only Apply (and tests) should
// call this directly; the runtime is the single writer.
func (s *MaterializedState) Mutate(fn func(*MaterializedState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// ScopedName builds the "project/name" key used for queues and other
// project-namespaced entities.
func ScopedName(project, name string) string {
	return project + "/" + name
}

// SplitScoped reverses ScopedName.
func SplitScoped(scoped string) (project, name string) {
	for i := 0; i < len(scoped); i++ {
		if scoped[i] == '/' {
			return scoped[:i], scoped[i+1:]
		}
	}
	return "", scoped
}
