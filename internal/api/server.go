// Package api wires the HTTP router: middleware stack, health, metrics,
// scheduling and dispatch endpoints, and the Swagger UI.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/race-alerts/internal/api/handler"
	"github.com/albapepper/race-alerts/internal/config"

	_ "github.com/albapepper/race-alerts/internal/api/docs" // swagger docs
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// metrics may be nil to omit /metrics.
func NewRouter(h *handler.Handler, metrics http.Handler, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control", APIKeyHeader},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag", "X-Request-Id"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Prometheus
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Reads
		r.Get("/schedule/preview", h.GetSchedulePreview)
		r.Get("/executions", h.GetExecutions)

		// Writes start executions or push notifications
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(cfg.APIKey))
			r.Post("/schedule/run", h.RunSchedule)
			r.Post("/dispatch", h.Dispatch)
		})
	})

	return r
}
