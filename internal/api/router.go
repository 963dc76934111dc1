// Package api exposes the read API over the mirror reports and the plan
// store operations.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/api/recovery"
	"github.com/projectpulse/projectpulse/internal/plans"
	"github.com/projectpulse/projectpulse/internal/reports"
)

// Handlers carries the services behind the HTTP surface.
type Handlers struct {
	reports  *reports.Service
	plans    *plans.Store
	healthFn func() bool
	log      zerolog.Logger
}

// NewHandlers wires the services. healthFn reports aggregate service
// health for the health endpoint.
func NewHandlers(rep *reports.Service, p *plans.Store, healthFn func() bool, log zerolog.Logger) *Handlers {
	if healthFn == nil {
		healthFn = func() bool { return true }
	}
	return &Handlers{reports: rep, plans: p, healthFn: healthFn, log: log}
}

// NewRouter builds the route table.
func (h *Handlers) NewRouter() *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	root.HandleFunc("/api/health", h.CheckHealth).Methods(http.MethodGet)

	// Reports
	root.HandleFunc("/api/reports/summary", h.GetSummary).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/groups/{dimension}", h.GetGroupBy).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/due", h.GetDueStats).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/search", h.SearchRecords).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/problems", h.GetProblems).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/works", h.GetWorkStats).Methods(http.MethodGet)
	root.HandleFunc("/api/reports/generation", h.GetGeneration).Methods(http.MethodGet)

	// Plans
	root.HandleFunc("/api/plans", h.CreatePlan).Methods(http.MethodPost)
	root.HandleFunc("/api/plans", h.ListPlans).Methods(http.MethodGet)
	root.HandleFunc("/api/plans", h.ClearPlans).Methods(http.MethodDelete)
	root.HandleFunc("/api/plans/upcoming", h.ListUpcoming).Methods(http.MethodGet)
	root.HandleFunc("/api/plans/stats", h.GetPlanStats).Methods(http.MethodGet)
	root.HandleFunc("/api/plans/{id}/toggle", h.TogglePlan).Methods(http.MethodPost)
	root.HandleFunc("/api/plans/{id}", h.DeletePlan).Methods(http.MethodDelete)

	return root
}
