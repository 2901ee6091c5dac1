// Package watcher provides filesystem change notification for watch mode.
//
// The Watcher interface is the contract between the build engine and the
// notification backend. The production implementation wraps fsnotify; tests
// substitute an in-memory fake so change handling can be driven directly.
package watcher

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a filesystem event.
type Op string

const (
	// OpCreate means the path came into existence.
	OpCreate Op = "create"

	// OpWrite means the file content changed.
	OpWrite Op = "write"

	// OpRemove means the path was deleted.
	OpRemove Op = "remove"

	// OpRename means the path was moved. Editors that save atomically
	// rename a temp file over the original, so this usually signals a
	// content change rather than a deletion.
	OpRename Op = "rename"
)

// Event is one observed change to a watched path.
type Event struct {
	Path string
	Op   Op
}

// Watcher delivers change events for an explicitly managed set of paths.
type Watcher interface {
	// Add starts watching a path. Adding a path twice is harmless.
	Add(path string) error

	// Remove stops watching a path.
	Remove(path string) error

	// WatchList returns the currently watched paths, sorted.
	WatchList() []string

	// Events streams observed changes. The channel is closed by Close.
	Events() <-chan Event

	// Errors streams backend failures that do not end the watch.
	Errors() <-chan error

	// Close releases the watcher and closes the event channel.
	Close() error
}

// Atomic saves replace the watched inode, dropping its subscription. The
// re-arm loop retries briefly because the replacement file may not exist at
// the instant the rename is observed.
const (
	rearmAttempts = 10
	rearmDelay    = 10 * time.Millisecond
)

type fsWatcher struct {
	inner  *fsnotify.Watcher
	events chan Event
	errs   chan error
	done   chan struct{}

	mu     sync.Mutex
	paths  map[string]struct{}
	closed bool
}

// New returns a Watcher backed by the operating system's notification
// facility.
func New() (Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start filesystem watcher: %w", err)
	}
	w := &fsWatcher{
		inner:  inner,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		paths:  make(map[string]struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *fsWatcher) loop() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				w.rearm(ev.Name)
			}
			select {
			case w.events <- Event{Path: ev.Name, Op: opFor(ev.Op)}:
			case <-w.done:
				return
			}

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.done:
				return
			default:
				// Drop rather than stall the event loop.
			}

		case <-w.done:
			return
		}
	}
}

func (w *fsWatcher) rearm(path string) {
	w.mu.Lock()
	_, tracked := w.paths[path]
	w.mu.Unlock()
	if !tracked {
		return
	}
	for i := 0; i < rearmAttempts; i++ {
		if err := w.inner.Add(path); err == nil {
			return
		}
		time.Sleep(rearmDelay)
	}
}

func (w *fsWatcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if _, ok := w.paths[path]; ok {
		return nil
	}
	if err := w.inner.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.paths[path] = struct{}{}
	return nil
}

func (w *fsWatcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[path]; !ok {
		return nil
	}
	delete(w.paths, path)
	if w.closed {
		return nil
	}
	if err := w.inner.Remove(path); err != nil {
		return fmt.Errorf("failed to unwatch %s: %w", path, err)
	}
	return nil
}

func (w *fsWatcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *fsWatcher) Events() <-chan Event {
	return w.events
}

func (w *fsWatcher) Errors() <-chan error {
	return w.errs
}

func (w *fsWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()
	return w.inner.Close()
}

func opFor(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	default:
		return OpRename
	}
}
