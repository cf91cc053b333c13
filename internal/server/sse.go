// SSE implementation note: this is a hand-rolled Server-Sent Events writer
// rather than a third-party package. The format is three lines of text, the
// event bus integration is custom, and the session filtering below has no
// off-the-shelf equivalent.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sessiontail/sessiontail/internal/event"
	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/internal/project"

	"github.com/go-chi/chi/v5"
)

// streamEvent is the wire shape of one SSE payload.
type streamEvent struct {
	Type       event.Type `json:"type"`
	Properties any        `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back to
	// the plain Flusher if it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// handleGlobalEvents handles GET /event. It relays every bus event to the
// client. Events only flow for sessions with an active stream, so a
// consumer that wants live data for a specific session should use the
// per-session endpoint instead.
func (srv *Server) handleGlobalEvents(w http.ResponseWriter, r *http.Request) {
	setSSEHeaders(w)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Flush headers before the first event so the client sees the stream
	// open immediately.
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", streamEvent{
		Type:       "server.connected",
		Properties: map[string]any{},
	}); err != nil {
		return
	}

	events := make(chan event.Event, 10)

	unsub := srv.sessions.Bus().SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", streamEvent{Type: e.Type, Properties: e.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// handleSessionEvents handles GET /session/{sessionID}/event. It opens a
// live subscription for the session, so the underlying file starts being
// watched for as long as the client stays connected, and relays the
// session's bus events.
func (srv *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	directory := getDirectory(r.Context())
	if directory == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "directory is required")
		return
	}

	// The subscription drives the pipeline; the bus carries the payloads.
	updates, cancel, err := srv.sessions.Subscribe(r.Context(), sessionID, directory)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	defer cancel()

	setSSEHeaders(w)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", streamEvent{
		Type:       "server.connected",
		Properties: map[string]any{},
	}); err != nil {
		return
	}

	key := project.Key(directory, sessionID)
	events := make(chan event.Event, 10)

	unsub := srv.sessions.Bus().SubscribeAll(func(e event.Event) {
		if !eventBelongsTo(e, key) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Str("sessionID", sessionID).
				Msg("SSE session event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			// Subscription payloads are also published on the bus; the
			// channel matters here only as the completion signal.
			if !ok {
				// Flush events enqueued before the stream completed, such
				// as the removal notice.
				for {
					select {
					case e := <-events:
						if err := sse.writeEvent("message", streamEvent{Type: e.Type, Properties: e.Data}); err != nil {
							return
						}
					default:
						sse.writeEvent("message", streamEvent{
							Type:       "stream.completed",
							Properties: map[string]any{"sessionID": sessionID},
						})
						return
					}
				}
			}
		case e := <-events:
			if err := sse.writeEvent("message", streamEvent{Type: e.Type, Properties: e.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// eventBelongsTo reports whether a bus event concerns the given session key.
func eventBelongsTo(e event.Event, key string) bool {
	switch data := e.Data.(type) {
	case event.MessageUpdatedData:
		return data.SessionKey == key
	case event.MessageCompletedData:
		return data.SessionKey == key
	case event.MessageFailedData:
		return data.SessionKey == key
	case event.BatchCompletedData:
		return data.SessionKey == key
	case event.SessionIdentifiedData:
		return data.SessionKey == key
	case event.SessionSummaryData:
		return data.SessionKey == key
	case event.SessionRemovedData:
		return data.SessionKey == key
	}
	return false
}
