package runbook

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ajlab/ojd/internal/common/logger"
)

// Watcher eagerly re-validates runbook files as they change on disk,
// logging RunbookError immediately instead of waiting for the next
// worker/cron wake to discover a broken edit: watch a handful of
// paths via fsnotify, react to Write/Create, ignore the rest.
type Watcher struct {
	fsw    *fsnotify.Watcher
	loader Loader
	log    *logger.Logger
	onBad  func(path string, err error)
	onGood func(rb *Runbook, path string)
	done   chan struct{}
}

// NewWatcher starts watching dir for *.oj.toml edits. onGood is called
// with a freshly re-parsed, re-hashed runbook on every successful parse;
// onBad is called with the RunbookError on a failed one.
func NewWatcher(dir string, loader Loader, log *logger.Logger, onGood func(*Runbook, string), onBad func(string, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		loader: loader,
		log:    log.Named("runbook_watch"),
		onBad:  onBad,
		onGood: onGood,
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".oj.toml") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rb, err := w.loader.Load(ev.Name)
			if err != nil {
				w.log.Warn("runbook edit failed validation", zap.Error(err))
				if w.onBad != nil {
					w.onBad(ev.Name, err)
				}
				continue
			}
			if w.onGood != nil {
				w.onGood(rb, ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("runbook watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
