package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/sessiontail/sessiontail/internal/config"
	"github.com/sessiontail/sessiontail/internal/project"
	"github.com/sessiontail/sessiontail/internal/server"
	"github.com/sessiontail/sessiontail/internal/session"
)

// TestServer wraps a server instance for testing
type TestServer struct {
	Server  *server.Server
	Service *session.Service
	BaseURL string
	Config  *config.Config
	TempDir string
	WorkDir string
	port    int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	envFile string
	grace   time.Duration
}

// WithWorkDir sets the project directory served by default
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithGraceTimeout shortens the subscriber grace period for fast teardown
// assertions
func WithGraceTimeout(d time.Duration) TestServerOption {
	return func(c *testServerConfig) {
		c.grace = d
	}
}

// StartTestServer creates and starts a test server over temp directories
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load("../.env")
		_ = godotenv.Load(".env")
	}

	tempDir, err := os.MkdirTemp("", "sessiontail-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workDir := cfg.workDir
	if workDir == "" {
		workDir = "/work/project"
	}

	appConfig := config.Default()
	appConfig.ClaudeDir = filepath.Join(tempDir, "claude")
	appConfig.StateDir = filepath.Join(tempDir, "state")
	if cfg.grace > 0 {
		appConfig.GraceTimeout = config.Duration(cfg.grace)
	}

	if err := os.MkdirAll(project.Dir(appConfig.ClaudeDir, workDir), 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	svc := session.NewService(appConfig)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, svc)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		srv.Shutdown(ctx)
		cancel()
		svc.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:  srv,
		Service: svc,
		BaseURL: baseURL,
		Config:  appConfig,
		TempDir: tempDir,
		WorkDir: workDir,
		port:    port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if ts.Service != nil {
		ts.Service.Close()
	}

	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}

	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL, ts.WorkDir)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// SessionPath returns the on-disk log path for a session of the served
// project
func (ts *TestServer) SessionPath(sessionID string) string {
	return project.SessionFile(ts.Config.ClaudeDir, ts.WorkDir, sessionID)
}

// WriteSession writes a session log from scratch
func (ts *TestServer) WriteSession(sessionID string, lines ...string) error {
	return writeLines(ts.SessionPath(sessionID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, lines)
}

// AppendSession appends lines to an existing session log
func (ts *TestServer) AppendSession(sessionID string, lines ...string) error {
	return writeLines(ts.SessionPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, lines)
}

// RemoveSession deletes a session log from disk
func (ts *TestServer) RemoveSession(sessionID string) error {
	return os.Remove(ts.SessionPath(sessionID))
}

func writeLines(path string, flags int, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL, "")
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// SkipIfMissingEnv reports whether any of the given env vars is unset
func SkipIfMissingEnv(vars ...string) bool {
	for _, v := range vars {
		if os.Getenv(v) == "" {
			return true
		}
	}
	return false
}
