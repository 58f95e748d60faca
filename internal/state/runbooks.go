package state

import "github.com/ajlab/ojd/internal/event"

func applyRunbookEvent(s *MaterializedState, ev event.Event) bool {
	switch e := ev.(type) {
	case *event.RunbookLoaded:
		// The Runbook body itself is never WAL-serialized (the event
		// only carries its hash); the loader populates s.Runbooks directly
		// and this event exists so replay can verify the hash it expects
		// is the hash currently cached.
		if _, ok := s.ProjectPaths[e.Project]; !ok {
			s.ProjectPaths[e.Project] = e.Path
		}
		return true

	case *event.CommandRun:
		if _, ok := s.ProjectPaths[e.Project]; !ok {
			s.ProjectPaths[e.Project] = e.ProjectPath
		}
		return true

	default:
		return false
	}
}
