package runtime

import (
	"sync"
	"time"

	"github.com/ajlab/ojd/internal/event"
)

// timerWheel tracks the daemon's logical timers by TimerId string.
// Resetting an
// existing id cancels the prior timer before arming the new one.
type timerWheel struct {
	rt *Runtime

	mu     sync.Mutex
	active map[string]*time.Timer
}

func newTimerWheel(rt *Runtime) *timerWheel {
	return &timerWheel{rt: rt, active: make(map[string]*time.Timer)}
}

func (w *timerWheel) set(id string, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.active[id]; ok {
		t.Stop()
	}
	w.active[id] = time.AfterFunc(d, func() {
		w.rt.Submit(&event.TimerStart{ID: id})
	})
}

func (w *timerWheel) cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.active[id]; ok {
		t.Stop()
		delete(w.active, id)
	}
}

func (w *timerWheel) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.active {
		t.Stop()
		delete(w.active, id)
	}
}
