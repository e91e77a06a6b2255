/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the operator UI
  5. Caller:     Gateway identity headers into the request context

ROUTE GROUPS:
  /api/tickets/*     Ticket lifecycle and reports
  /api/dashboard/*   Quality desk dashboards
  /api/search        Ticket searches
  /api/scenarios/*   Demo master data (only when a Seeder is configured)
  /healthz           Liveness

SECURITY NOTE:
  Authentication happens upstream. This server trusts the X-User-Id,
  X-Site-Id and X-Company-Id headers it receives.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			HeaderUserID, HeaderSiteID, HeaderCompanyID,
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(callerMiddleware)

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", h.OpenTicket)
			r.Route("/{ticketNo}", func(r chi.Router) {
				r.Post("/weighments", h.RecordWeighment)
				r.Post("/quality", h.SubmitQuality)
				r.Post("/quality/pass", h.PassQuality)
				r.Post("/weigh-out", h.RecordWeighOut)
				r.Get("/report", h.GetReport)
				r.Get("/ledger", h.GetLedger)
				r.Post("/reconcile", h.Reconcile)
			})
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/quality", h.PendingQuality)
			r.Get("/completed", h.CompletedQuality)
			r.Get("/inside", h.InsideCount)
		})

		r.Get("/search", h.Search)

		if h.Seeder != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
