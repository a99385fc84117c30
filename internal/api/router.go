package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds the coordinator check behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	r.Use(middleware.CleanPath)

	// Prometheus exposition (no auth required for scrapers)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/pool", s.handleGetPool)

			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.handleListChannels)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetChannel)
					r.Put("/mode", s.handleSetMode)
					r.Delete("/transition", s.handleCancelTransition)
					r.Put("/setpoint", s.handleSetSetpoint)
					r.Put("/effect", s.handleSetEffect)
					r.Post("/sync", s.handleSyncLights)
				})
			})

			r.Get("/transitions/{id}", s.handleGetTransition)
			r.Post("/favourites/{number}/activate", s.handleActivateFavourite)

			r.Route("/actions", func(r chi.Router) {
				r.Post("/", s.handleExecuteAction)
				r.Get("/{number}", s.handleActionStatus)
			})

			r.Post("/refresh/config", s.handleRefreshConfig)
			r.Post("/refresh/status", s.handleRefreshStatus)

			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth reports the server and coordinator health.
// It answers 503 while the coordinator is unhealthy so load balancers and
// container health checks can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"freshness": s.coord.Freshness().String(),
	}
	status := http.StatusOK
	if err := s.coord.HealthCheck(ctx); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
