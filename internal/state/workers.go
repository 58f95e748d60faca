package state

import "github.com/ajlab/ojd/internal/event"

// WorkerStatus is WorkerRecord.status.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerStopped WorkerStatus = "stopped"
)

// Worker is a runtime attachment of a job kind to a queue with a
// concurrency cap.
type Worker struct {
	Name          string
	Project       string
	ProjectPath   string
	RunbookHash   string
	Status        WorkerStatus
	Concurrency   int
	QueueName     string
	QueueType     string // "persisted" | "external"
	JobKind       string
	RetryAttempts int
	RetryCooldown string

	// Active holds the owner IDs ("kind:id") of currently-dispatched,
	// non-terminal jobs/crews.
	Active map[string]bool
	// ItemMap maps owner ("kind:id") -> the queue item it is processing.
	ItemMap map[string]string
	// InflightItems is the codomain of ItemMap, kept as a set so
	// membership checks don't require scanning ItemMap.
	InflightItems map[string]bool
}

// ScopedKey is the "project/name" key Worker is stored under.
func (w *Worker) ScopedKey() string { return ScopedName(w.Project, w.Name) }

func applyWorkerEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.WorkerStarted:
		key := ScopedName(e.Project, e.Name)
		if existing, ok := s.Workers[key]; ok {
			existing.Status = WorkerRunning
			existing.RunbookHash = e.RunbookHash
			return true
		}
		s.Workers[key] = &Worker{
			Name: e.Name, Project: e.Project, ProjectPath: e.ProjectPath,
			RunbookHash: e.RunbookHash, Status: WorkerRunning,
			Concurrency: e.Concurrency, QueueName: e.QueueName, QueueType: e.QueueType, JobKind: e.JobKind,
			RetryAttempts: e.RetryAttempts, RetryCooldown: e.RetryCooldown,
			Active: make(map[string]bool), ItemMap: make(map[string]string),
			InflightItems: make(map[string]bool),
		}
		return true

	case *event.WorkerStopped:
		if w := s.Workers[ScopedName(e.Project, e.Name)]; w != nil {
			w.Status = WorkerStopped
		}
		return true

	case *event.WorkerItemDispatched:
		w := s.Workers[ScopedName(e.Project, e.Worker)]
		if w == nil {
			return true
		}
		ownerKey := e.Kind_ + ":" + e.Owner
		if w.Active[ownerKey] {
			return true // idempotent
		}
		w.Active[ownerKey] = true
		w.ItemMap[ownerKey] = e.ItemID
		w.InflightItems[e.ItemID] = true
		return true

	default:
		return false
	}
}

// freeSlot removes an owner's dispatch bookkeeping from w, maintaining
// the invariant that ItemMap's codomain equals InflightItems.
func freeSlot(w *Worker, ownerKey string) {
	itemID, ok := w.ItemMap[ownerKey]
	if !ok {
		return
	}
	delete(w.ItemMap, ownerKey)
	delete(w.Active, ownerKey)
	delete(w.InflightItems, itemID)
}
