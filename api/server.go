/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus counters by route pattern
  5. CORS:       Cross-origin requests for the admin UI

ROUTE GROUPS:
  /api/groups/{group}/*   Member, ranking, adjustment and rule routes
  /api/entries/{id}/*     Approval decisions
  /api/scenarios/*        Demo households
  /metrics                Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/points-ledger/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	RequestLogging bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/groups/{group}", func(r chi.Router) {
			r.Post("/completions", h.RecordCompletion)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/ranking", h.GetRanking)

			r.Route("/members/{user}", func(r chi.Router) {
				r.Get("/history", h.GetHistory)
				r.Get("/balance", h.GetBalance)
				r.Get("/stats", h.GetStats)
				r.Put("/task-stats", h.PutTaskStats)
				r.Post("/bonus-check", h.CheckBonuses)
				r.Post("/reconcile", h.Reconcile)
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Post("/", h.CreateRule)
				r.Delete("/{rule}", h.DeleteRule)
			})
		})

		// Approval routes
		r.Route("/entries/{id}", func(r chi.Router) {
			r.Post("/approve", h.ApproveEntry)
			r.Post("/reject", h.RejectEntry)
			r.Put("/amount", h.UpdateAmount)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
