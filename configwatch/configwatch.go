// Package configwatch watches a JSON configuration document on disk and
// notifies callbacks when it changes, so a process can pick up new
// resilience primitive settings without a restart. It is a pure
// additive/external collaborator: nothing in the core resilience package
// imports it.
package configwatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	resilience "github.com/resilience-go/core"
)

const debounceInterval = 300 * time.Millisecond

// Reloader watches a config file and reloads it on change, debouncing
// bursts of filesystem events (editors often write a file multiple times
// per save).
type Reloader struct {
	mu        sync.Mutex
	current   resilience.Document
	path      string
	logger    *slog.Logger
	callbacks []func(resilience.Document)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader creates a Reloader for path, starting from initial.
func NewReloader(path string, initial resilience.Document, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active document.
func (r *Reloader) Current() resilience.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current
}

// OnReload registers a callback invoked with the new document after a
// successful reload.
func (r *Reloader) OnReload(fn func(resilience.Document)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file for changes. Must be called once.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(r.path); err != nil {
		watcher.Close()

		return err
	}

	r.watcher = watcher

	r.logger.Info("configwatch: watching config file", "path", r.path)

	go r.watchLoop()

	return nil
}

// Stop terminates the file watcher.
func (r *Reloader) Stop() {
	close(r.stopCh)

	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Reload loads the document from disk and, if it parses successfully,
// swaps it in and notifies every registered callback. It returns whether
// the reload succeeded, so callers and tests can drive it directly instead
// of waiting on the filesystem.
func (r *Reloader) Reload() bool {
	doc, err := resilience.LoadDocument(r.path)
	if err != nil {
		r.logger.Error("configwatch: reload failed, keeping current document", "path", r.path, "error", err)

		return false
	}

	r.mu.Lock()
	r.current = doc
	callbacks := make([]func(resilience.Document), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(doc)
	}

	r.logger.Info("configwatch: reloaded configuration", "path", r.path)

	return true
}

func (r *Reloader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(debounceInterval, func() { r.Reload() })
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}

			r.logger.Error("configwatch: watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}

			return
		}
	}
}
