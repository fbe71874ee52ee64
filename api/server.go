/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs and X-Request-Id
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logging:    One slog line per completed request
  4. Metrics:    Prometheus counters by route pattern (optional)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/groups/*        Groups and their ledgers
  /api/participants/*  Participant updates
  /api/expenses/*      Cost entry updates
  /api/transfers/*     Direct transfer deletion
  /api/payments/*      Recorded payment updates
  /api/settlements/*   Finalized settlement history
  /api/scenarios/*     Demo scenarios and reset (dev only)
  /metrics             Prometheus exposition
  /healthz             Liveness (database ping)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/splitledger/internal/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics // nil disables /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/join/{code}", h.JoinGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Delete("/", h.DeleteGroup)
				r.Post("/archive", h.ArchiveGroup)
				r.Post("/restore", h.RestoreGroup)
				r.Get("/summary", h.GroupSummary)

				r.Get("/participants", h.ListParticipants)
				r.Post("/participants", h.AddParticipant)
				r.Get("/expenses", h.ListExpenses)
				r.Post("/expenses", h.AddExpense)
				r.Get("/transfers", h.ListTransfers)
				r.Post("/transfers", h.AddTransfer)
				r.Get("/payments", h.ListPayments)
				r.Post("/payments", h.RecordPayment)

				r.Get("/settlement", h.ComputeSettlement)
				r.Post("/settlement/finalize", h.FinalizeSettlement)
				r.Get("/settlements", h.ListSettlements)
			})
		})

		r.Route("/participants", func(r chi.Router) {
			r.Put("/{id}", h.UpdateParticipant)
			r.Delete("/{id}", h.DeleteParticipant)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteTransfer)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Put("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/{id}", h.GetSettlement)
			r.Get("/{id}/carry-forward", h.GetCarryForwardLog)
			r.Get("/{id}/payments", h.GetSettlementPayments)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs every completed request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if id := requestID(r); id != "" {
				ww.Header().Set("X-Request-Id", id)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID(r),
			)
		})
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
