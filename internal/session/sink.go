package session

import (
	"context"
	"path/filepath"

	"github.com/sessiontail/sessiontail/internal/event"
	"github.com/sessiontail/sessiontail/internal/project"
	"github.com/sessiontail/sessiontail/internal/watcher"
)

var _ watcher.Sink = (*Service)(nil)

// keyForPath derives the session key from a watched file path. The parent
// directory name is already the encoded project path.
func keyForPath(path string) (key, sessionID string, ok bool) {
	sessionID, ok = project.SessionIDFromFile(path)
	if !ok {
		return "", "", false
	}
	return filepath.Base(filepath.Dir(path)) + "/" + sessionID, sessionID, true
}

// FileCreated implements watcher.Sink.
func (s *Service) FileCreated(path string) {
	s.FileChanged(path)
}

// FileChanged implements watcher.Sink. New bytes are read on the session's
// worker; sessions nobody subscribed to are left untouched.
func (s *Service) FileChanged(path string) {
	key, _, ok := keyForPath(path)
	if !ok {
		return
	}

	s.disp.dispatch(key, func() {
		s.mu.Lock()
		st, live := s.streams[key]
		s.mu.Unlock()
		if !live {
			return
		}
		s.pump(st)
	})
}

// FileRemoved implements watcher.Sink. The session's cache and persisted
// state are dropped and any live stream completes.
func (s *Service) FileRemoved(path string) {
	key, sessionID, ok := keyForPath(path)
	if !ok {
		return
	}

	s.disp.dispatch(key, func() {
		ctx := context.Background()

		s.cache.Clear(key)

		s.bus.PublishSync(event.Event{
			Type: event.SessionRemoved,
			Data: event.SessionRemovedData{SessionKey: key, SessionID: sessionID},
		})

		// Teardown persists the cursor, so the stored state goes last.
		s.teardown(key, true)

		if err := s.store.Delete(ctx, scopeCursor, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to delete cursor")
		}
		if err := s.store.Delete(ctx, scopeSession, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to delete session state")
		}
	})
}
