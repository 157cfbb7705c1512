package rest

import (
	"log/slog"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/paylink/internal/session"
	"github.com/frahmantamala/paylink/internal/transport/middleware"
)

func RegisterAllRoutes(router *chi.Mux, sessionHandler *session.Handler, healthHandler *HealthHandler, logger *slog.Logger) {
	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/sessions", func(sr chi.Router) {
			// the logging middleware buffers response bodies, which would
			// stall the SSE stream; keep the events route outside it
			sr.Group(func(gr chi.Router) {
				gr.Use(middleware.LoggingMiddleware(logger))

				gr.Post("/", sessionHandler.CreateSession)          // POST /sessions
				gr.Get("/{id}", sessionHandler.GetStatus)           // GET /sessions/:id
				gr.Get("/{id}/qr", sessionHandler.GeneratePaymentTarget)
				gr.Post("/{id}/check", sessionHandler.CheckOnce)
				gr.Post("/{id}/verify", sessionHandler.VerifyReference)
				gr.Post("/{id}/cancel", sessionHandler.Cancel)
			})

			sr.Get("/{id}/events", sessionHandler.StreamEvents)
		})
	})
}
