package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.handleHealth)

	// Global event stream (SSE)
	r.Get("/event", s.handleGlobalEvents)

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/message", s.getMessages)

			// Per-session event stream (SSE)
			r.Get("/event", s.handleSessionEvents)
		})
	})
}
