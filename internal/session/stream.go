package session

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessiontail/sessiontail/internal/assembler"
	"github.com/sessiontail/sessiontail/internal/event"
	"github.com/sessiontail/sessiontail/internal/tracker"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// subscriberBuffer bounds each subscriber channel. A consumer that falls
// this far behind starts losing intermediate snapshots.
const subscriberBuffer = 256

// stream is the live read loop state for one session. All field mutation
// happens either on the session's dispatcher worker or under the service
// mutex (subscriber bookkeeping).
type stream struct {
	key         string
	sessionID   string
	projectPath string
	dir         string
	path        string

	tracker *tracker.Tracker
	asm     *assembler.Assembler

	subs  map[string]chan *types.AssembledMessage
	grace *time.Timer
}

// openStream builds the stream state and fast-forwards the cursor to the
// end of the file. New subscribers never see already-written history; they
// fetch it through LoadHistory.
func (s *Service) openStream(ctx context.Context, key, sessionID, projectPath, dir, path string) (*stream, error) {
	st := &stream{
		key:         key,
		sessionID:   sessionID,
		projectPath: projectPath,
		dir:         dir,
		path:        path,
		tracker:     tracker.New(path, sessionID, s.cfg.RetryPolicy()),
		asm:         assembler.New(sessionID),
		subs:        make(map[string]chan *types.AssembledMessage),
	}

	// A session resubscribed within this process can resume from its
	// persisted cursor instead of re-reading the whole file; the cache
	// still holds its messages.
	var state types.TrackerState
	if _, cached := s.cache.Len(key); cached {
		if err := s.store.Get(ctx, scopeCursor, key, &state); err == nil && state.Path == path {
			st.tracker.Restore(state)
			s.log.Debug().Str("key", key).Int64("offset", state.Offset).Msg("resuming stream from persisted cursor")
			return st, nil
		}
	}

	// Warm read: run the whole file through a fresh assembler so the
	// in-progress turn, if any, is correctly buffered, and the cache holds
	// the full history.
	events, err := st.tracker.ReadNew(ctx)
	if err != nil {
		return nil, err
	}
	results := st.asm.FeedBatch(events)
	s.cache.Replace(key, collect(results))

	if err := s.store.Put(ctx, scopeCursor, key, st.tracker.State()); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to persist cursor")
	}
	return st, nil
}

// pump reads new lines, advances assembly, and fans results out to the bus
// and subscribers. Runs only on the session's dispatcher worker.
func (s *Service) pump(st *stream) {
	ctx := context.Background()

	events, err := st.tracker.ReadNew(ctx)
	if err != nil {
		// The retry budget is already spent. Complete the stream instead
		// of wedging subscribers.
		s.log.Error().Err(err).Str("key", st.key).Msg("stream read failed, completing stream")
		s.teardown(st.key, true)
		return
	}
	if len(events) == 0 {
		return
	}

	for _, res := range st.asm.FeedBatch(events) {
		s.fanout(st, res)
	}

	if err := s.store.Put(ctx, scopeCursor, st.key, st.tracker.State()); err != nil {
		s.log.Warn().Err(err).Str("key", st.key).Msg("failed to persist cursor")
	}
}

func (s *Service) fanout(st *stream, res assembler.Result) {
	switch res.Kind {
	case assembler.KindUpdated:
		s.deliver(st, res.Message)
		s.bus.PublishSync(event.Event{
			Type: event.MessageUpdated,
			Data: event.MessageUpdatedData{SessionKey: st.key, Info: res.Message},
		})
	case assembler.KindCompleted:
		s.cache.Append(st.key, []*types.AssembledMessage{res.Message})
		s.deliver(st, res.Message)
		s.bus.PublishSync(event.Event{
			Type: event.MessageCompleted,
			Data: event.MessageCompletedData{SessionKey: st.key, Info: res.Message},
		})
	case assembler.KindFailed:
		s.cache.Append(st.key, []*types.AssembledMessage{res.Message})
		s.deliver(st, res.Message)
		s.bus.PublishSync(event.Event{
			Type: event.MessageFailed,
			Data: event.MessageFailedData{SessionKey: st.key, Info: res.Message},
		})
	case assembler.KindBatchComplete:
		s.bus.PublishSync(event.Event{
			Type: event.BatchCompleted,
			Data: event.BatchCompletedData{SessionKey: st.key, Messages: res.Batch},
		})
	case assembler.KindSessionIdentified:
		s.bus.PublishSync(event.Event{
			Type: event.SessionIdentified,
			Data: event.SessionIdentifiedData{SessionKey: st.key, SessionID: res.SessionID},
		})
	case assembler.KindSummary:
		s.saveSummary(st, res.Summary)
		s.bus.PublishSync(event.Event{
			Type: event.SessionSummary,
			Data: event.SessionSummaryData{SessionKey: st.key, Summary: res.Summary},
		})
	}
}

// deliver sends a snapshot to every subscriber without blocking. A full
// subscriber buffer drops the snapshot; the next update supersedes it.
func (s *Service) deliver(st *stream, msg *types.AssembledMessage) {
	s.mu.Lock()
	channels := make([]chan *types.AssembledMessage, 0, len(st.subs))
	for _, ch := range st.subs {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- msg:
		default:
			s.log.Warn().Str("key", st.key).Msg("subscriber buffer full, dropping snapshot")
		}
	}
}

func (s *Service) saveSummary(st *stream, summary string) {
	ctx := context.Background()
	var info types.SessionInfo
	if err := s.store.Get(ctx, scopeSession, st.key, &info); err != nil {
		info = types.SessionInfo{ID: st.sessionID, Path: st.path}
	}
	info.Summary = summary
	if err := s.store.Put(ctx, scopeSession, st.key, info); err != nil {
		s.log.Warn().Err(err).Str("key", st.key).Msg("failed to persist session summary")
	}
}

// addSubscriber registers a channel on the stream and cancels any pending
// grace teardown. Caller holds the service mutex.
func (st *stream) addSubscriber() (string, chan *types.AssembledMessage) {
	if st.grace != nil {
		st.grace.Stop()
		st.grace = nil
	}
	id := ulid.Make().String()
	ch := make(chan *types.AssembledMessage, subscriberBuffer)
	st.subs[id] = ch
	return id, ch
}

// teardown closes the stream and releases its watcher reference. Runs on
// the session's dispatcher worker. With completeSubs the subscriber
// channels are closed so consumers observe end-of-stream.
func (s *Service) teardown(key string, completeSubs bool) {
	s.mu.Lock()
	st, ok := s.streams[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.streams, key)
	subs := st.subs
	st.subs = make(map[string]chan *types.AssembledMessage)

	s.dirRefs[st.dir]--
	unwatch := s.dirRefs[st.dir] <= 0
	if unwatch {
		delete(s.dirRefs, st.dir)
	}
	s.mu.Unlock()

	if completeSubs {
		for _, ch := range subs {
			close(ch)
		}
	}

	if err := s.store.Put(context.Background(), scopeCursor, key, st.tracker.State()); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to persist cursor on teardown")
	}

	if unwatch {
		if err := s.watchers.Unwatch(st.dir); err != nil {
			s.log.Warn().Err(err).Str("dir", st.dir).Msg("failed to stop watcher")
		}
	}

	s.log.Debug().Str("key", key).Msg("stream closed")
}
