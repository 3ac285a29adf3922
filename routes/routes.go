package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ScientiaCapital/sales-agent-sub004/app"
	"github.com/ScientiaCapital/sales-agent-sub004/handlers"
	"github.com/ScientiaCapital/sales-agent-sub004/middleware"
)

// requestTimeout bounds every request; provider timeouts and retries must fit inside it
const requestTimeout = 120 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := healthHandler(deps)
	dispatchHandler := handlers.NewDispatchHandler(deps.Dispatcher, deps.Logger)
	budgetHandler := handlers.NewBudgetHandler(deps.Dispatcher.Ledger(), deps.Costs, deps.Logger)
	providerHandler := handlers.NewProviderHandler(deps.Dispatcher, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Caller routes require a token only when a signing secret is configured
		r.Group(func(r chi.Router) {
			if deps.AuthEnabled() {
				r.Use(deps.AuthMiddleware.RequireAuth)
			}
			r.Post("/dispatch", dispatchHandler.HandleDispatch)

			r.Route("/budget", func(r chi.Router) {
				r.Get("/", budgetHandler.HandleStatus)
				r.Get("/totals", budgetHandler.HandleTotals)
				r.Get("/history", budgetHandler.HandleHistory)
				r.Get("/records/{requestID}", budgetHandler.HandleGetRecord)
			})

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", providerHandler.HandleList)
				r.Get("/{name}/breaker", providerHandler.HandleGetBreaker)
			})
		})

		// Admin routes (require admin role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Post("/providers/{name}/reset", providerHandler.HandleResetBreaker)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// healthHandler passes only the backends that are configured
func healthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	var pinger handlers.Pinger
	if deps.Redis != nil {
		pinger = deps.Redis
	}
	return handlers.NewHealthHandler(db, pinger, deps.Dispatcher, deps.Logger)
}
