package state

import "encoding/json"

// Snapshot is the JSON-serializable projection of MaterializedState
// written by the optional periodic snapshot. Runbooks and PollMeta are
// deliberately excluded: the runbook cache is rebuilt by the loader at
// startup and PollMeta is explicitly non-durable.
type Snapshot struct {
	Jobs         map[string]*Job              `json:"jobs"`
	Crew         map[string]*Crew              `json:"crew"`
	Agents       map[string]*AgentRecord       `json:"agents"`
	Workspaces   map[string]*Workspace         `json:"workspaces"`
	Workers      map[string]*Worker            `json:"workers"`
	Crons        map[string]*Cron              `json:"crons"`
	Decisions    map[string]*Decision          `json:"decisions"`
	QueueItems   map[string]map[string]*QueueItem `json:"queue_items"`
	ProjectPaths map[string]string             `json:"project_paths"`
}

// EncodeSnapshot marshals the durable projection while holding the read
// lock, so the caller can hand the bytes to a snapshot backend without
// racing the event loop's writes.
func (s *MaterializedState) EncodeSnapshot() ([]byte, error) {
	var data []byte
	var err error
	s.View(func(s *MaterializedState) {
		data, err = json.Marshal(Snapshot{
			Jobs: s.Jobs, Crew: s.Crew, Agents: s.Agents, Workspaces: s.Workspaces,
			Workers: s.Workers, Crons: s.Crons, Decisions: s.Decisions,
			QueueItems: s.QueueItems, ProjectPaths: s.ProjectPaths,
		})
	})
	return data, err
}

// DecodeSnapshot is EncodeSnapshot's inverse, for restore at startup.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	err := json.Unmarshal(data, &snap)
	return snap, err
}

// Export snapshots the current state under the read lock.
func (s *MaterializedState) Export() Snapshot {
	var snap Snapshot
	s.View(func(s *MaterializedState) {
		snap = Snapshot{
			Jobs: s.Jobs, Crew: s.Crew, Agents: s.Agents, Workspaces: s.Workspaces,
			Workers: s.Workers, Crons: s.Crons, Decisions: s.Decisions,
			QueueItems: s.QueueItems, ProjectPaths: s.ProjectPaths,
		}
	})
	return snap
}

// Restore replaces every durable field with snap's contents under the
// write lock, used once at startup before WAL-tail replay begins.
func (s *MaterializedState) Restore(snap Snapshot) {
	s.Mutate(func(s *MaterializedState) {
		if snap.Jobs != nil {
			s.Jobs = snap.Jobs
		}
		if snap.Crew != nil {
			s.Crew = snap.Crew
		}
		if snap.Agents != nil {
			s.Agents = snap.Agents
		}
		if snap.Workspaces != nil {
			s.Workspaces = snap.Workspaces
		}
		if snap.Workers != nil {
			s.Workers = snap.Workers
		}
		if snap.Crons != nil {
			s.Crons = snap.Crons
		}
		if snap.Decisions != nil {
			s.Decisions = snap.Decisions
		}
		if snap.QueueItems != nil {
			s.QueueItems = snap.QueueItems
		}
		if snap.ProjectPaths != nil {
			s.ProjectPaths = snap.ProjectPaths
		}
	})
}
