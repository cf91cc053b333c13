package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sessiontail/sessiontail/internal/event"
	"github.com/sessiontail/sessiontail/internal/project"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// mockResponseWriter counts flushes for SSE writer tests.
type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

func TestNewSSEWriter(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	if err != nil {
		t.Fatalf("newSSEWriter failed: %v", err)
	}
	if sse == nil {
		t.Fatal("SSE writer should not be nil")
	}
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	_, err := newSSEWriter(&noFlushWriter{})
	if err == nil {
		t.Error("Expected error for writer without Flusher")
	}
}

func TestSSEWriter_WriteEvent(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	data := map[string]string{"message": "hello"}
	if err := sse.writeEvent("test", data); err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: test\n") {
		t.Error("Expected event line")
	}
	if !strings.Contains(body, `"message":"hello"`) {
		t.Error("Expected data to contain message")
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

func TestSSEWriter_WriteHeartbeat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeHeartbeat()

	body := w.Body.String()
	if !strings.Contains(body, ": heartbeat\n") {
		t.Errorf("Expected heartbeat comment, got: %s", body)
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

func TestSSEEventFormat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeEvent("message", map[string]any{"type": "test", "id": 123})

	lines := strings.Split(w.Body.String(), "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected at least 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "event: ") {
		t.Errorf("First line should be event, got: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") {
		t.Errorf("Second line should be data, got: %s", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("Third line should be empty, got: %s", lines[2])
	}
}

func TestEventBelongsTo(t *testing.T) {
	key := project.Key(testProject, "s1")
	otherKey := project.Key(testProject, "s2")

	tests := []struct {
		name     string
		event    event.Event
		expected bool
	}{
		{
			name: "MessageCompleted matches",
			event: event.Event{
				Type: event.MessageCompleted,
				Data: event.MessageCompletedData{
					SessionKey: key,
					Info:       &types.AssembledMessage{ID: "m1"},
				},
			},
			expected: true,
		},
		{
			name: "MessageCompleted other session",
			event: event.Event{
				Type: event.MessageCompleted,
				Data: event.MessageCompletedData{
					SessionKey: otherKey,
					Info:       &types.AssembledMessage{ID: "m1"},
				},
			},
			expected: false,
		},
		{
			name: "MessageUpdated matches",
			event: event.Event{
				Type: event.MessageUpdated,
				Data: event.MessageUpdatedData{SessionKey: key},
			},
			expected: true,
		},
		{
			name: "BatchCompleted matches",
			event: event.Event{
				Type: event.BatchCompleted,
				Data: event.BatchCompletedData{SessionKey: key},
			},
			expected: true,
		},
		{
			name: "SessionRemoved other session",
			event: event.Event{
				Type: event.SessionRemoved,
				Data: event.SessionRemovedData{SessionKey: otherKey, SessionID: "s2"},
			},
			expected: false,
		},
		{
			name:     "Unknown payload never matches",
			event:    event.Event{Type: "bogus", Data: struct{}{}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eventBelongsTo(tt.event, key); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGlobalEvents_Headers(t *testing.T) {
	srv, _ := setupTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/event", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected Content-Type text/event-stream, got: %s", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Expected Cache-Control no-cache, got: %s", cc)
	}

	// First payload is the connected event
	scanner := bufio.NewScanner(resp.Body)
	var first string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			first = line
			break
		}
	}
	if !strings.Contains(first, "server.connected") {
		t.Errorf("Expected server.connected event, got: %s", first)
	}
}

func TestSessionEvents_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := get(srv, "/session/nonexistent/event", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestSessionEvents_MissingDirectory(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.config.Directory = ""

	w := get(srv, "/session/s1/event", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestSessionEvents_StreamsLiveUpdates(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1", userTurn("warm"))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/session/s1/event", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var (
		mu    sync.Mutex
		lines []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			mu.Lock()
			lines = append(lines, scanner.Text())
			mu.Unlock()
		}
	}()

	// Let the subscription settle, then append a live turn.
	time.Sleep(200 * time.Millisecond)

	path := project.SessionFile(cfg.ClaudeDir, testProject, "s1")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(userTurn("fresh") + "\n")
	f.Close()

	deadline := time.After(4 * time.Second)
	for {
		mu.Lock()
		var got bool
		for _, line := range lines {
			if strings.Contains(line, "fresh") {
				got = true
			}
			// The warm read must not be replayed.
			if strings.Contains(line, "warm") {
				mu.Unlock()
				t.Fatal("Received replayed history on live stream")
			}
		}
		mu.Unlock()
		if got {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for live event")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
