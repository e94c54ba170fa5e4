/**
 * @description
 * HTTP router setup for the renewal service using go-chi/chi.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/subsnooze/renewal-service/pkg/ratelimit"
)

// RouterConfig carries the pieces of the HTTP surface that vary per deployment.
type RouterConfig struct {
	CronSecret     string
	TriggerLimiter ratelimit.Limiter
	Metrics        http.Handler
	Logger         *slog.Logger
}

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Renewal service is healthy"))
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Post("/renewal/preview", h.handlePreview)

	r.Route("/internal", func(r chi.Router) {
		r.Use(CronSecretMiddleware(cfg.CronSecret))

		r.With(RateLimitMiddleware(cfg.TriggerLimiter, "job_trigger", cfg.Logger)).
			Post("/jobs/{job}", h.handleRunJob)

		r.Post("/subscriptions/{id}/cancel-attempt", h.handleCancelAttempt)
		r.Post("/subscriptions/{id}/cancel-verification", h.handleCancelVerification)
	})

	return r
}
