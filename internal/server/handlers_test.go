package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/sessiontail/sessiontail/internal/config"
	"github.com/sessiontail/sessiontail/internal/project"
	"github.com/sessiontail/sessiontail/internal/session"
	"github.com/sessiontail/sessiontail/pkg/types"
)

const testProject = "/work/app"

func setupTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.ClaudeDir = t.TempDir()
	cfg.StateDir = t.TempDir()

	svc := session.NewService(cfg)
	t.Cleanup(func() { svc.Close() })

	srvCfg := DefaultConfig()
	srvCfg.Directory = testProject

	return New(srvCfg, svc), cfg
}

func writeSession(t *testing.T, cfg *config.Config, sessionID string, lines ...string) {
	t.Helper()

	path := project.SessionFile(cfg.ClaudeDir, testProject, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func userTurn(text string) string {
	return `{"type":"start","sessionId":"s1","role":"user","text":` + jsonString(text) + `,"timestamp":"2026-08-30T10:00:00Z"}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func get(srv *Server, path string, params url.Values) *httptest.ResponseRecorder {
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := get(srv, "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestListSessions_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := get(srv, "/session", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sessions []types.SessionInfo
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(sessions) != 0 {
		t.Errorf("Expected empty list, got %d sessions", len(sessions))
	}
}

func TestListSessions(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1", userTurn("hello"))

	w := get(srv, "/session", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sessions []types.SessionInfo
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID != "s1" {
		t.Errorf("Session ID mismatch: got %s", sessions[0].ID)
	}
}

func TestListSessions_DirectoryOverride(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1", userTurn("hello"))

	// A different directory has no sessions
	w := get(srv, "/session", url.Values{"directory": {"/work/other"}})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sessions []types.SessionInfo
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions for other directory, got %d", len(sessions))
	}
}

func TestGetSession(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1", userTurn("hello"))

	w := get(srv, "/session/s1", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var info types.SessionInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if info.ID != "s1" {
		t.Errorf("Session ID mismatch: got %s", info.ID)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := get(srv, "/session/nonexistent", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("Expected %s, got %s", ErrCodeNotFound, resp.Error.Code)
	}
}

func TestGetMessages(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1",
		userTurn("first"),
		userTurn("second"),
	)

	w := get(srv, "/session/s1/message", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var messages []*types.AssembledMessage
	if err := json.NewDecoder(w.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Errorf("Message content mismatch: %q, %q", messages[0].Content, messages[1].Content)
	}
}

func TestGetMessages_Limit(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1",
		userTurn("first"),
		userTurn("second"),
		userTurn("third"),
	)

	w := get(srv, "/session/s1/message", url.Values{"limit": {"2"}})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var messages []*types.AssembledMessage
	if err := json.NewDecoder(w.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "second" || messages[1].Content != "third" {
		t.Errorf("Limit should keep the most recent messages: %q, %q", messages[0].Content, messages[1].Content)
	}
}

func TestGetMessages_InvalidLimit(t *testing.T) {
	srv, cfg := setupTestServer(t)
	writeSession(t, cfg, "s1", userTurn("hello"))

	w := get(srv, "/session/s1/message", url.Values{"limit": {"banana"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestGetMessages_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := get(srv, "/session/nonexistent/message", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMissingDirectory(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.config.Directory = ""

	w := get(srv, "/session", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
