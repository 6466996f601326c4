/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/plans/*            Fee plan catalog
  /api/assignments/*      Fee assignments and schedules
  /api/payments           Payment recording
  /api/discounts/*        Discount templates
  /api/access/*           Gate decisions
  /api/access-controls/*  Admin override rows
  /api/admin/*            Daily run trigger and audit log

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

	r.Route("/api", func(r chi.Router) {
		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.SavePlan)
			r.Get("/{id}", h.GetPlan)
			r.Post("/{id}/deactivate", h.DeactivatePlan)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Get("/{id}", h.GetAssignment)
			r.Put("/{id}", h.UpdateAssignment)
			r.Get("/{id}/installments", h.ListInstallments)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/schedule", h.RegenerateSchedule)
		})

		// Payment routes
		r.Post("/payments", h.RecordPayment)

		// Discount routes
		r.Route("/discounts", func(r chi.Router) {
			r.Get("/", h.ListDiscounts)
			r.Post("/", h.SaveDiscount)
		})

		// Access routes
		r.Get("/access/{studentID}/{batchID}", h.GetAccessDecision)
		r.Route("/access-controls", func(r chi.Router) {
			r.Post("/", h.SaveAccessControl)
			r.Delete("/{studentID}/{batchID}", h.DeleteAccessControl)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/daily-tasks/run", h.RunDailyTasks)
			r.Get("/daily-tasks", h.ListDailyTasks)
		})
	})

	return r
}
