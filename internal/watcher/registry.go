package watcher

import (
	"sync"
)

// Registry manages one watcher per project directory.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]*Watcher)}
}

// Watch starts a watcher for dir unless one is already running.
func (r *Registry) Watch(dir string, sink Sink) error {
	r.mu.Lock()
	if _, ok := r.watchers[dir]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	w, err := New(dir, sink)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}

	r.mu.Lock()
	if _, ok := r.watchers[dir]; ok {
		// Lost the race to another caller.
		r.mu.Unlock()
		return w.Stop()
	}
	r.watchers[dir] = w
	r.mu.Unlock()
	return nil
}

// Unwatch stops the watcher for dir if one is running.
func (r *Registry) Unwatch(dir string) error {
	r.mu.Lock()
	w, ok := r.watchers[dir]
	delete(r.watchers, dir)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Stop()
}

// Close stops every watcher.
func (r *Registry) Close() error {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.watchers = make(map[string]*Watcher)
	r.mu.Unlock()

	var firstErr error
	for _, w := range watchers {
		if err := w.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
