/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

SECURITY NOTE:
  Authentication is owned by an upstream layer; the X-Actor header is
  trusted as given. Do not expose this service directly.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Post("/{id}/archive", h.ArchiveClient)
			r.Get("/{id}/debts", h.ListClientDebts)
			r.Get("/{id}/stats", h.GetClientStats)
		})

		r.Route("/debts", func(r chi.Router) {
			r.Get("/", h.ListDebts)
			r.Post("/", h.CreateDebt)
			r.Get("/{id}", h.GetDebt)
			r.Post("/{id}/cancel", h.CancelDebt)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Post("/{id}/payments/{paymentID}/reverse", h.ReversePayment)
		})

		r.Get("/stats", h.GetPortfolioStats)
		r.Get("/reminders/due", h.ListDueReminders)
	})

	return r
}
