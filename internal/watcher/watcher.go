// Package watcher monitors session log directories for file changes. It
// never reads file content itself; it only reports which files changed so
// the owning pipeline can read them under its own serialization.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/internal/project"
)

// Sink receives change notifications for session log files. Callbacks are
// invoked from the watcher goroutine and must not block.
type Sink interface {
	FileCreated(path string)
	FileChanged(path string)
	FileRemoved(path string)
}

// Watcher monitors one project directory for session log changes.
type Watcher struct {
	dir     string
	sink    Sink
	watcher *fsnotify.Watcher

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex

	// known tracks session files seen so far, for overflow recovery.
	known map[string]struct{}

	log zerolog.Logger
}

// New creates a watcher for the given directory. The directory must exist.
func New(dir string, sink Sink) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:     dir,
		sink:    sink,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		known:   make(map[string]struct{}),
		log:     logging.For("watcher").With().Str("dir", dir).Logger(),
	}, nil
}

// Start reports the session files already present, then begins delivering
// change notifications.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.scan(); err != nil {
		// run() never launched, so Stop must not wait for it.
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return err
	}

	go w.run()
	return nil
}

// scan walks the directory once so files created before the watch began are
// not missed.
func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if _, ok := project.SessionIDFromFile(path); !ok {
			continue
		}
		w.mu.Lock()
		w.known[path] = struct{}{}
		w.mu.Unlock()
		w.sink.FileCreated(path)
	}
	return nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.recoverOverflow()
				continue
			}
			w.log.Error().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if _, ok := project.SessionIDFromFile(ev.Name); !ok {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.mu.Lock()
		_, seen := w.known[ev.Name]
		w.known[ev.Name] = struct{}{}
		w.mu.Unlock()
		if seen {
			// An editor replacing the file atomically shows up as a fresh
			// create for a path we already track.
			w.sink.FileChanged(ev.Name)
		} else {
			w.sink.FileCreated(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		w.mu.Lock()
		w.known[ev.Name] = struct{}{}
		w.mu.Unlock()
		w.sink.FileChanged(ev.Name)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.known, ev.Name)
		w.mu.Unlock()
		w.sink.FileRemoved(ev.Name)
	}
}

// recoverOverflow re-notifies every tracked file. Cursor-based reads make
// the extra notifications cheap; only genuinely new bytes are delivered.
func (w *Watcher) recoverOverflow() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.known))
	for path := range w.known {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	w.log.Warn().Int("files", len(paths)).Msg("event overflow, re-checking all tracked files")
	for _, path := range paths {
		w.sink.FileChanged(path)
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Stop signals the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
