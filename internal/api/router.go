package api

import (
	"net/http"

	"github.com/dvloznov/networth-tracker/internal/api/handlers"
	"github.com/dvloznov/networth-tracker/internal/api/middleware"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/networth"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the collaborators served by the router.
type Deps struct {
	Store     storage.Store
	History   networth.HistoryProvider
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Log       zerolog.Logger
}

// NewRouter builds the HTTP routes and middleware chain.
func NewRouter(deps Deps) http.Handler {
	netWorth := handlers.NewNetWorthHandler(deps.History, deps.Log)
	accounts := handlers.NewAccountsHandler(deps.Store, deps.Publisher, deps.Log)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs, deps.Log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Log))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/users/{userID}", func(u chi.Router) {
			u.Get("/networth", netWorth.GetHistory)
			u.Get("/accounts", accounts.ListUserAccounts)
		})

		api.Route("/accounts/{accountID}", func(a chi.Router) {
			a.Get("/", accounts.GetAccount)
			a.Get("/transactions", accounts.ListTransactions)
			a.Post("/recalculate", accounts.Recalculate)
		})

		api.Route("/jobs", func(j chi.Router) {
			j.Get("/", jobsHandler.ListJobs)
			j.Get("/{jobID}", jobsHandler.GetJob)
		})
	})

	return r
}
