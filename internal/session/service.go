// Package session composes the pipeline: it owns the per-session read
// loops, the message cache, the watcher registry, and the event bus, and
// exposes the consumer-facing operations.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessiontail/sessiontail/internal/assembler"
	"github.com/sessiontail/sessiontail/internal/cache"
	"github.com/sessiontail/sessiontail/internal/config"
	"github.com/sessiontail/sessiontail/internal/event"
	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/internal/parser"
	"github.com/sessiontail/sessiontail/internal/project"
	"github.com/sessiontail/sessiontail/internal/storage"
	"github.com/sessiontail/sessiontail/internal/tracker"
	"github.com/sessiontail/sessiontail/internal/watcher"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// Persistence scopes in the state store.
const (
	scopeCursor  = "cursor"
	scopeSession = "session"
)

// Service is the composition root of the pipeline.
type Service struct {
	cfg      *config.Config
	store    *storage.Store
	cache    *cache.Cache
	bus      *event.Bus
	watchers *watcher.Registry
	disp     *dispatcher

	mu      sync.Mutex
	streams map[string]*stream
	dirRefs map[string]int
	closed  bool

	log zerolog.Logger
}

// NewService creates a service from resolved configuration. Persisted state
// belonging to session files that no longer exist is pruned on the way up.
func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:      cfg,
		store:    storage.New(cfg.StateDir),
		cache:    cache.New(cfg.CacheCapacity),
		bus:      event.NewBus(),
		watchers: watcher.NewRegistry(),
		disp:     newDispatcher(),
		streams:  make(map[string]*stream),
		dirRefs:  make(map[string]int),
		log:      logging.For("session"),
	}
	s.pruneStaleState(context.Background())
	return s
}

// pruneStaleState walks the persisted cursors and drops every entry whose
// session file is gone, together with its session metadata. Removals that
// happen while the process is down would otherwise leave cursor files
// behind forever.
func (s *Service) pruneStaleState(ctx context.Context) {
	err := s.store.Scan(ctx, scopeCursor, func(key string, data json.RawMessage) error {
		var state types.TrackerState
		if err := json.Unmarshal(data, &state); err != nil || state.Path == "" {
			return nil
		}
		if _, err := os.Stat(state.Path); !os.IsNotExist(err) {
			return nil
		}

		s.log.Debug().Str("key", key).Str("path", state.Path).Msg("pruning state for removed session file")
		if err := s.store.Delete(ctx, scopeCursor, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to prune cursor")
		}
		if err := s.store.Delete(ctx, scopeSession, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to prune session metadata")
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to scan persisted cursors")
	}
}

// Bus returns the service's event bus.
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// LoadHistory returns the session's assembled messages in order. The cache
// answers when warm; otherwise the whole file is read and assembled fresh.
// A limit > 0 keeps only the most recent messages. On failure the list is
// empty and the error carries the reason.
func (s *Service) LoadHistory(ctx context.Context, sessionID, projectPath string, limit int) ([]*types.AssembledMessage, error) {
	key := project.Key(projectPath, sessionID)

	if msgs, ok := s.cache.Get(key, limit); ok {
		return msgs, nil
	}

	path := project.SessionFile(s.cfg.ClaudeDir, projectPath, sessionID)

	var msgs []*types.AssembledMessage
	var loadErr error
	ran := s.disp.do(key, func() {
		// Another caller may have warmed the cache while this job queued.
		if cached, ok := s.cache.Get(key, limit); ok {
			msgs = cached
			return
		}

		t := tracker.New(path, sessionID, s.cfg.RetryPolicy())
		events, err := t.ReadAll(ctx)
		if err != nil {
			loadErr = fmt.Errorf("load history for %s: %w", sessionID, err)
			return
		}

		asm := assembler.New(sessionID)
		all := collect(asm.FeedBatch(events))
		s.cache.Replace(key, all)

		if limit > 0 && len(all) > limit {
			all = all[len(all)-limit:]
		}
		msgs = all
	})
	if !ran {
		return []*types.AssembledMessage{}, fmt.Errorf("service is shut down")
	}
	if loadErr != nil {
		return []*types.AssembledMessage{}, loadErr
	}
	return msgs, nil
}

// Subscribe attaches a live subscriber to the session. The channel carries
// message snapshots in arrival order, starting from updates that happen
// after the call; history is fetched separately via LoadHistory. The
// returned cancel function releases the subscription and is safe to call
// more than once.
func (s *Service) Subscribe(ctx context.Context, sessionID, projectPath string) (<-chan *types.AssembledMessage, func(), error) {
	key := project.Key(projectPath, sessionID)
	dir := project.Dir(s.cfg.ClaudeDir, projectPath)
	path := project.SessionFile(s.cfg.ClaudeDir, projectPath, sessionID)

	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	var openErr error
	ran := s.disp.do(key, func() {
		s.mu.Lock()
		_, exists := s.streams[key]
		s.mu.Unlock()
		if exists {
			return
		}

		st, err := s.openStream(ctx, key, sessionID, projectPath, dir, path)
		if err != nil {
			openErr = err
			return
		}

		s.mu.Lock()
		s.streams[key] = st
		s.dirRefs[dir]++
		firstForDir := s.dirRefs[dir] == 1
		s.mu.Unlock()

		if firstForDir {
			if err := s.watchers.Watch(dir, s); err != nil {
				s.log.Error().Err(err).Str("dir", dir).Msg("failed to start watcher")
			}
		}
	})
	if !ran {
		return nil, nil, fmt.Errorf("service is shut down")
	}
	if openErr != nil {
		return nil, nil, openErr
	}

	s.mu.Lock()
	st, ok := s.streams[key]
	if !ok {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s: stream closed during subscribe", sessionID)
	}
	subID, ch := st.addSubscriber()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { s.unsubscribe(key, subID) })
	}
	return ch, cancel, nil
}

// unsubscribe detaches one subscriber. The stream itself survives a grace
// period with zero subscribers so a quick resubscribe reuses it.
func (s *Service) unsubscribe(key, subID string) {
	s.mu.Lock()
	st, ok := s.streams[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(st.subs, subID)
	if len(st.subs) == 0 && st.grace == nil {
		st.grace = time.AfterFunc(time.Duration(s.cfg.GraceTimeout), func() {
			s.disp.dispatch(key, func() {
				s.mu.Lock()
				live, ok := s.streams[key]
				idle := ok && len(live.subs) == 0
				s.mu.Unlock()
				if idle {
					s.teardown(key, false)
				}
			})
		})
	}
	s.mu.Unlock()
}

// SessionExists reports whether the session's log file is present.
func (s *Service) SessionExists(sessionID, projectPath string) bool {
	_, err := os.Stat(project.SessionFile(s.cfg.ClaudeDir, projectPath, sessionID))
	return err == nil
}

// MessageCount returns the number of cached messages, falling back to the
// file's line count when the session is not cached.
func (s *Service) MessageCount(ctx context.Context, sessionID, projectPath string) (int, error) {
	key := project.Key(projectPath, sessionID)
	if n, ok := s.cache.Len(key); ok {
		return n, nil
	}

	path := project.SessionFile(s.cfg.ClaudeDir, projectPath, sessionID)
	t := tracker.New(path, sessionID, s.cfg.RetryPolicy())
	return t.CountLines(ctx)
}

// ListSessions returns the sessions found in the project's log directory,
// most recently modified first.
func (s *Service) ListSessions(ctx context.Context, projectPath string) ([]types.SessionInfo, error) {
	dir := project.Dir(s.cfg.ClaudeDir, projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.SessionInfo{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	type entry struct {
		info    types.SessionInfo
		modTime time.Time
	}
	var found []entry

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		sessionID, ok := project.SessionIDFromFile(path)
		if !ok {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			continue
		}

		info := types.SessionInfo{
			ID:      sessionID,
			Path:    path,
			FirstAt: firstEventTime(path),
			LastAt:  fi.ModTime(),
		}

		count, err := s.MessageCount(ctx, sessionID, projectPath)
		if err == nil {
			info.MessageCount = count
		}

		key := project.Key(projectPath, sessionID)
		if msgs, ok := s.cache.Get(key, 0); ok {
			info.Usage = totalUsage(msgs)
		}

		var stored types.SessionInfo
		if err := s.store.Get(ctx, scopeSession, key, &stored); err == nil {
			info.Summary = stored.Summary
		}

		found = append(found, entry{info: info, modTime: fi.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})

	infos := make([]types.SessionInfo, len(found))
	for i, e := range found {
		infos[i] = e.info
	}
	return infos, nil
}

// Close tears down every stream, watcher, and worker.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := make([]string, 0, len(s.streams))
	for key := range s.streams {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	if err := s.watchers.Close(); err != nil {
		s.log.Warn().Err(err).Msg("error closing watchers")
	}

	for _, key := range keys {
		s.disp.do(key, func() {
			s.teardown(key, true)
		})
	}

	s.disp.close()
	return s.bus.Close()
}

// firstEventTime returns the timestamp of the file's first log line, zero
// when the file is empty or the line carries none.
func firstEventTime(path string) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return time.Time{}
	}
	if ev := parser.Parse(bytes.TrimRight(line, "\r\n")); ev != nil {
		return ev.Timestamp
	}
	return time.Time{}
}

// totalUsage sums token counters across a session's messages, nil when no
// message reported any.
func totalUsage(msgs []*types.AssembledMessage) *types.TokenUsage {
	var total types.TokenUsage
	seen := false
	for _, m := range msgs {
		if m.Usage != nil {
			total.Add(*m.Usage)
			seen = true
		}
	}
	if !seen {
		return nil
	}
	return &total
}

// collect flattens assembler results into the ordered message list they
// describe. Later snapshots of a message replace earlier ones in place.
func collect(results []assembler.Result) []*types.AssembledMessage {
	index := make(map[string]int)
	var out []*types.AssembledMessage
	for _, res := range results {
		if res.Message == nil {
			continue
		}
		if i, ok := index[res.Message.ID]; ok {
			out[i] = res.Message
		} else {
			index[res.Message.ID] = len(out)
			out = append(out, res.Message)
		}
	}
	return out
}
