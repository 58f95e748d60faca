package state

import "github.com/ajlab/ojd/internal/event"

// CrewStatus is the lifecycle status of a standalone-agent run.
type CrewStatus string

const (
	CrewStarting  CrewStatus = "starting"
	CrewRunning   CrewStatus = "running"
	CrewWaiting   CrewStatus = "waiting"
	CrewEscalated CrewStatus = "escalated"
	CrewCompleted CrewStatus = "completed"
	CrewFailed    CrewStatus = "failed"
)

// IsTerminal reports whether the crew status is Completed or Failed.
func (s CrewStatus) IsTerminal() bool { return s == CrewCompleted || s == CrewFailed }

// Crew is a standalone agent run launched from `command.X run = { agent
// = Y }`.
type Crew struct {
	ID             string
	AgentName      string
	CommandName    string
	Project        string
	Cwd            string
	RunbookHash    string
	Status         CrewStatus
	AgentID        string
	Error          string
	Vars           map[string]string
	ActionAttempts map[string]int
	LastNudgeAtMs  int64
	CronName       string
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

func applyCrewEvent(s *MaterializedState, ev event.Event, nowMs int64) bool {
	switch e := ev.(type) {
	case *event.CrewCreated:
		id := string(e.ID)
		if _, exists := s.Crew[id]; exists {
			return true
		}
		s.Crew[id] = &Crew{
			ID: id, AgentName: e.AgentName, CommandName: e.CommandName,
			Project: e.Project, Cwd: e.Cwd, RunbookHash: e.RunbookHash,
			Status: CrewStarting, Vars: copyMap(e.Vars), CronName: e.CronName,
			ActionAttempts: make(map[string]int),
			CreatedAtMs:    e.CreatedAtMs, UpdatedAtMs: e.CreatedAtMs,
		}
		return true

	case *event.CrewStarted:
		c := s.Crew[string(e.ID)]
		if c == nil {
			return true
		}
		c.Status = CrewRunning
		c.AgentID = string(e.AgentID)
		c.UpdatedAtMs = nowMs
		if _, ok := s.Agents[string(e.AgentID)]; !ok {
			s.Agents[string(e.AgentID)] = &AgentRecord{
				ID: string(e.AgentID), Owner: OwnerOfCrew(c.ID),
				AgentName: c.AgentName, Project: c.Project,
				WorkspacePath: c.Cwd, Status: AgentRunning,
			}
		}
		return true

	case *event.CrewUpdated:
		c := s.Crew[string(e.ID)]
		if c == nil {
			return true
		}
		c.Status = CrewStatus(e.Status)
		if e.Reason != "" {
			c.Error = e.Reason
		}
		c.UpdatedAtMs = nowMs
		if c.Status.IsTerminal() {
			cleanupUnresolvedDecisions(s, OwnerOfCrew(c.ID), nowMs)
			if c.CronName != "" {
				releaseCronOwner(s, c.Project, c.ID)
			}
		}
		return true

	case *event.CrewDeleted:
		id := string(e.ID)
		delete(s.Crew, id)
		for aid, rec := range s.Agents {
			if rec.Owner.Kind == OwnerKindCrew && rec.Owner.ID == id {
				delete(s.Agents, aid)
			}
		}
		return true

	default:
		return false
	}
}
