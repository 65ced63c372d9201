/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/transactions/*   Transaction CRUD
  /api/users/*          Per-user balances, history, verification
  /api/settle/*         Smart settlement
  /api/templates/*      Recurring templates
  /api/admin/*          Verification and rebuild
  /metrics              Prometheus metrics

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/splitbook/ledger-engine/pkg/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balances", h.GetUserBalances)
			r.Get("/transactions", h.ListUserTransactions)
			r.Get("/verify", h.VerifyUser)
		})

		// Settlement routes
		r.Route("/settle", func(r chi.Router) {
			r.Post("/", h.CreateSettlement)
			r.Post("/preview", h.PreviewSettlement)
		})

		// Template routes
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/verify", h.VerifyAll)
			r.Post("/recalculate", h.Recalculate)
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", metrics.Handler())

	return r
}
