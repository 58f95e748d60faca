package state

import "github.com/ajlab/ojd/internal/event"

// CronStatus is Cron.status.
type CronStatus string

const (
	CronRunning CronStatus = "running"
	CronStopped CronStatus = "stopped"
)

// Cron is a scheduled recurring target.
type Cron struct {
	Name        string
	Project     string
	ProjectPath string
	RunbookHash string
	Status      CronStatus
	Interval    string
	TargetKind  string
	TargetName  string
	Concurrency int

	// FiredOwners records owner IDs already produced by this cron, so a
	// re-delivered CronOnce for the same owner is a no-op.
	FiredOwners map[string]bool
	// ActiveOwners is the set of owner IDs this cron currently has in
	// flight, bounded by Concurrency.
	ActiveOwners map[string]bool
}

func applyCronEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.CronStarted:
		key := ScopedName(e.Project, e.Name)
		if existing, ok := s.Crons[key]; ok {
			existing.Status = CronRunning
			existing.RunbookHash = e.RunbookHash
			return true
		}
		s.Crons[key] = &Cron{
			Name: e.Name, Project: e.Project, ProjectPath: e.ProjectPath,
			RunbookHash: e.RunbookHash, Status: CronRunning, Interval: e.Interval,
			TargetKind: e.TargetKind, TargetName: e.TargetName, Concurrency: e.Concurrency,
			FiredOwners: make(map[string]bool), ActiveOwners: make(map[string]bool),
		}
		return true

	case *event.CronStopped:
		if c := s.Crons[ScopedName(e.Project, e.Name)]; c != nil {
			c.Status = CronStopped
		}
		return true

	case *event.CronFired:
		if c := s.Crons[ScopedName(e.Project, e.Cron)]; c != nil {
			c.ActiveOwners[e.Owner] = true
		}
		return true

	case *event.CronOnce:
		c := s.Crons[ScopedName(e.Project, e.Cron)]
		if c == nil {
			return true
		}
		if c.FiredOwners[e.OwnerID] {
			return true // idempotent by owner-id
		}
		c.FiredOwners[e.OwnerID] = true
		c.ActiveOwners[e.OwnerID] = true
		return true

	default:
		return false
	}
}

// releaseCronOwner removes owner from every cron's active set once its
// job/crew reaches a terminal state (or its shell firing exits), freeing
// a concurrency slot.
func releaseCronOwner(s *MaterializedState, project, owner string) {
	for _, c := range s.Crons {
		if c.Project == project {
			delete(c.ActiveOwners, owner)
		}
	}
}
