package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/doors", func(r chi.Router) {
			r.Get("/", s.handleListDoors)

			// Door IDs are only unique within a gateway on some firmware
			// revisions, so doors address by composite path.
			r.Route("/{gatewayID}/{doorID}", func(r chi.Router) {
				r.Get("/state", s.handleGetDoorState)
				r.Put("/desired", s.handleSetDoorDesired)
				r.Get("/history", s.handleGetDoorHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
