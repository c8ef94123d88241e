/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request, copied into the log context
  2. RequestLogger: One structured log line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the dashboard
  5. RequireTenant: X-Tenant-ID on every /api route
  6. Limiter:       Per-tenant token bucket on run submission only

ROUTE GROUPS:
  /api/optimization/*   Runs, recommendations, cost models, flags
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint (when configured)

SECURITY NOTE:
  No authentication middleware. The gateway in front of this service
  authenticates callers and sets X-Tenant-ID / X-User-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler
	Limiter     *TenantLimiter
	Logger      *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = h.Logger
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderTenantID, HeaderUserID},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api/optimization", func(r chi.Router) {
		r.Use(RequireTenant)

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.With(opts.Limiter.Limit).Post("/", h.CreateRun)
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})
		r.Get("/maintenance-priority", h.GetMaintenancePriority)

		// Recommendation review routes
		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/", h.ListRecommendations)
			r.Put("/{id}", h.UpdateRecommendation)
		})

		// Cost model routes
		r.Route("/cost-models", func(r chi.Router) {
			r.Get("/", h.ListCostModels)
			r.Post("/", h.CreateCostModel)
		})

		// Feature flag routes
		r.Get("/flags", h.GetFlags)
		r.Put("/flags", h.UpdateFlags)
	})

	return r
}
