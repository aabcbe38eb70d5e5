package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/doorbell-identify/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	identifyHandler := handlers.NewIdentifyHandler(s.config, s.service)
	eventsHandler := handlers.NewEventsHandler(s.config)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// Identification endpoint, path kept stable for existing doorbell clients
	s.router.Post("/identify_secure", identifyHandler.IdentifySecure)

	// Audit log
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", eventsHandler.List)
		r.Post("/events/similar", eventsHandler.FindSimilar)
	})
}
