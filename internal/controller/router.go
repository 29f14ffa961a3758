package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/disbursements/internal/infrastructure/config"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/disbursements/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Health           *HealthController
	Disbursements    *DisbursementController
	Addresses        *AddressController
	Backend          *BackendController
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	MetricsHandler   http.Handler
	CORSConfig       config.CORSConfig
	RateLimit        config.RateLimitConfig
	JWTSecret        string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.Metrics(deps.Metrics))

	r.Get("/health", deps.Health.Health)
	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Payment hooks are retried by the shop; the key makes the retry a replay.
		idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)

		// Orders
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.With(idempotencyMW).Post("/payment-completed", deps.Disbursements.PaymentCompleted)
			r.Post("/units", deps.Disbursements.RegisterUnits)
			r.Get("/units", deps.Disbursements.ListUnits)
			r.Get("/notes", deps.Disbursements.ListNotes)
		})

		// Public address check used by the storefront
		r.With(customMW.RateLimit(deps.RateLimit.Requests, deps.RateLimit.Window)).
			Post("/addresses/validate", deps.Addresses.Validate)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
			r.Use(customMW.RequireRole(customMW.RoleAdmin))

			r.Get("/backend/balance", deps.Backend.Balance)
			r.Get("/settings", deps.Backend.GetSettings)
			r.Put("/settings", deps.Backend.UpdateSettings)
		})
	})

	return r
}
