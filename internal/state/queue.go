package state

import "github.com/ajlab/ojd/internal/event"

// QueueItemStatus is QueueItem.status.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemTaken     QueueItemStatus = "taken"
	QueueItemCompleted QueueItemStatus = "completed"
	QueueItemFailed    QueueItemStatus = "failed"
	QueueItemDead      QueueItemStatus = "dead"
)

// QueueItem is one unit of work parked on a persisted queue.
type QueueItem struct {
	ID         string
	Queue      string
	Project    string
	Data       map[string]string
	Status     QueueItemStatus
	Worker     string
	Attempts   int
	PushedAtMs int64
	Reason     string
}

func queueKey(project, queue string) string { return ScopedName(project, queue) }

func (s *MaterializedState) ensureQueue(project, queue string) map[string]*QueueItem {
	key := queueKey(project, queue)
	m, ok := s.QueueItems[key]
	if !ok {
		m = make(map[string]*QueueItem)
		s.QueueItems[key] = m
	}
	return m
}

func applyQueueEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.QueuePushed:
		items := s.ensureQueue(e.Project, e.Queue)
		if _, exists := items[e.ItemID]; exists {
			return true
		}
		items[e.ItemID] = &QueueItem{
			ID: e.ItemID, Queue: e.Queue, Project: e.Project,
			Data: copyMap(e.Data), Status: QueueItemPending, PushedAtMs: e.PushedAt,
		}
		return true

	case *event.QueueTaken:
		items := s.ensureQueue(e.Project, e.Queue)
		item, ok := items[e.ItemID]
		if !ok {
			return true
		}
		if item.Status == QueueItemTaken {
			return true // idempotent re-take by the same dispatch
		}
		item.Status = QueueItemTaken
		item.Worker = e.Worker
		return true

	case *event.WorkerItemDispatched:
		// Queue bookkeeping mirrors the dispatch performed by applyWorkerEvent;
		// QueueTaken already recorded item.Worker, nothing further here.
		return true

	case *event.QueueCompleted:
		items := s.ensureQueue(e.Project, e.Queue)
		item, ok := items[e.ItemID]
		if !ok {
			return true
		}
		item.Status = QueueItemCompleted
		s.releaseWorkerSlot(e.Project, item)
		return true

	case *event.QueueFailed:
		items := s.ensureQueue(e.Project, e.Queue)
		item, ok := items[e.ItemID]
		if !ok {
			return true
		}
		item.Status = QueueItemFailed
		item.Reason = e.Reason
		item.Attempts++
		s.releaseWorkerSlot(e.Project, item)
		return true

	case *event.QueueItemRetry:
		items := s.ensureQueue(e.Project, e.Queue)
		if item, ok := items[e.ItemID]; ok {
			item.Status = QueueItemPending
			item.Worker = ""
			item.Attempts = 0
		}
		return true

	case *event.QueueItemDead:
		items := s.ensureQueue(e.Project, e.Queue)
		if item, ok := items[e.ItemID]; ok {
			item.Status = QueueItemDead
		}
		return true

	case *event.QueueDropped:
		items := s.ensureQueue(e.Project, e.Queue)
		delete(items, e.ItemID)
		return true

	default:
		return false
	}
}

// releaseWorkerSlot frees the dispatch slot held for item.Worker across
// all workers attached to item's queue, maintaining the |active| <=
// concurrency invariant.
func (s *MaterializedState) releaseWorkerSlot(project string, item *QueueItem) {
	if item.Worker == "" {
		return
	}
	w := s.Workers[ScopedName(project, item.Worker)]
	if w == nil {
		return
	}
	for ownerKey, itemID := range w.ItemMap {
		if itemID == item.ID {
			freeSlot(w, ownerKey)
			return
		}
	}
}
