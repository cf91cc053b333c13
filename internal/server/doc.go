// Package server provides the HTTP surface of the session pipeline.
//
// The server is a thin, read-only layer over session.Service. It exposes
// the assembled conversation model of recorded sessions and streams live
// updates as files grow on disk.
//
// # API Endpoints
//
//   - GET /session: list sessions recorded for a project directory
//   - GET /session/{sessionID}: metadata for one session
//   - GET /session/{sessionID}/message: assembled message history,
//     optionally tail-limited with ?limit=
//   - GET /session/{sessionID}/event: per-session SSE stream of live
//     assembly events
//   - GET /event: global SSE stream of all bus events
//   - GET /health: liveness probe
//
// Every endpoint resolves the project directory from the ?directory=
// query parameter, falling back to the directory the server was started
// with.
//
// # Event Streaming
//
// The per-session SSE endpoint opens a real subscription on the session
// service, so connecting a client is what starts (and keeps alive) the
// file watching for that session. Disconnecting releases the
// subscription and the watch winds down after the grace period. The
// global /event endpoint is passive: it relays whatever the bus carries
// but does not itself keep any session stream alive.
//
// # Usage Example
//
//	cfg := server.DefaultConfig()
//	cfg.Port = 8080
//	cfg.Directory = "/path/to/project"
//
//	srv := server.New(cfg, sessionService)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
