package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/projectpulse/projectpulse/internal/api/respond"
	"github.com/projectpulse/projectpulse/internal/model"
)

// CheckHealth reports aggregate service health.
func (h *Handlers) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if !h.healthFn() {
		respond.WriteError(w, http.StatusServiceUnavailable, "service dependencies unhealthy")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetSummary returns the headline aggregate.
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reports.Summary(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("summary query failed")
		respond.WriteInternalError(w, "summary unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, sum)
}

// GetGroupBy returns the categorical breakdown for a dimension.
func (h *Handlers) GetGroupBy(w http.ResponseWriter, r *http.Request) {
	dimension := mux.Vars(r)["dimension"]
	groups, err := h.reports.GroupBy(r.Context(), dimension)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		h.log.Error().Err(err).Str("dimension", dimension).Msg("group query failed")
		respond.WriteInternalError(w, "breakdown unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, groups)
}

// GetDueStats returns due-date buckets for open problems.
func (h *Handlers) GetDueStats(w http.ResponseWriter, r *http.Request) {
	due, err := h.reports.DueStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("due stats query failed")
		respond.WriteInternalError(w, "due stats unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, due)
}

// SearchRecords returns one page of substring matches.
func (h *Handlers) SearchRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respond.WriteBadRequest(w, "q is required")
		return
	}
	page, err := h.reports.Search(r.Context(), q, queryPage(r))
	if err != nil {
		h.log.Error().Err(err).Msg("record search failed")
		respond.WriteInternalError(w, "search unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// GetProblems returns one page of records with open problems.
func (h *Handlers) GetProblems(w http.ResponseWriter, r *http.Request) {
	page, err := h.reports.Problems(r.Context(), queryPage(r))
	if err != nil {
		h.log.Error().Err(err).Msg("problems query failed")
		respond.WriteInternalError(w, "problems unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// GetWorkStats returns the daily works aggregate.
func (h *Handlers) GetWorkStats(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reports.WorkStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("work stats query failed")
		respond.WriteInternalError(w, "work stats unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, sum)
}

// GetGeneration reports the installed mirror generation.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, count, err := h.reports.Generation(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "no generation installed yet")
			return
		}
		h.log.Error().Err(err).Msg("generation query failed")
		respond.WriteInternalError(w, "generation unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"generation": gen,
		"records":    count,
	})
}

func queryPage(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
