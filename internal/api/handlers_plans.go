package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/projectpulse/projectpulse/internal/api/respond"
	"github.com/projectpulse/projectpulse/internal/model"
)

// viewerHeader carries the caller's identity. The chat transport in front
// of this API fills it from the authenticated session.
const viewerHeader = "X-Viewer-Id"

func viewerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(viewerHeader), 10, 64)
	return id, err == nil
}

type createPlanRequest struct {
	Owner   int64      `json:"owner"`
	Text    string     `json:"text"`
	DueDate model.Date `json:"due_date,omitempty"`
	Date    model.Date `json:"date,omitempty"`
}

// CreatePlan adds an entry to a plan scope. Owner defaults to the viewer;
// only a privileged viewer may add to another owner's scope.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}

	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.Owner == 0 {
		req.Owner = viewer
	}

	id, err := h.plans.Add(req.Owner, req.Text, req.DueDate, req.Date, viewer)
	if err != nil {
		if errors.Is(err, model.ErrDenied) {
			respond.WriteError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("plan add failed")
		respond.WriteInternalError(w, "plan not saved")
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]int{"id": id})
}

// planScope pulls (owner, date) from the query, defaulting owner to the
// viewer.
func planScope(r *http.Request, viewer int64) (int64, model.Date) {
	owner := viewer
	if v := r.URL.Query().Get("owner"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			owner = n
		}
	}
	return owner, model.Date(r.URL.Query().Get("date"))
}

// ListPlans lists a scope, honoring the privileged-union rule.
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}
	owner, date := planScope(r, viewer)
	if !date.Valid() {
		respond.WriteBadRequest(w, "date is required (YYYY-MM-DD)")
		return
	}
	entries := h.plans.List(owner, date, viewer)
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"plans": entries})
}

// TogglePlan flips completion of one entry.
func (h *Handlers) TogglePlan(w http.ResponseWriter, r *http.Request) {
	h.mutatePlan(w, r, h.plans.Toggle)
}

// DeletePlan removes one entry and renumbers the scope.
func (h *Handlers) DeletePlan(w http.ResponseWriter, r *http.Request) {
	h.mutatePlan(w, r, h.plans.Delete)
}

func (h *Handlers) mutatePlan(w http.ResponseWriter, r *http.Request, op func(int64, model.Date, int, int64) bool) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 1 {
		respond.WriteBadRequest(w, "invalid plan id")
		return
	}
	owner, date := planScope(r, viewer)
	if !date.Valid() {
		respond.WriteBadRequest(w, "date is required (YYYY-MM-DD)")
		return
	}
	if !op(owner, date, id, viewer) {
		respond.WriteNotFound(w, "no such plan, or not yours to change")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ClearPlans empties a scope. The viewer clears their own scope; a
// privileged viewer may target another owner's.
func (h *Handlers) ClearPlans(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}
	owner, date := planScope(r, viewer)
	if !date.Valid() {
		respond.WriteBadRequest(w, "date is required (YYYY-MM-DD)")
		return
	}

	var cleared bool
	if owner == viewer {
		cleared = h.plans.Clear(owner, date, viewer)
	} else {
		cleared = h.plans.ClearFor(owner, date, viewer)
	}
	if !cleared {
		respond.WriteNotFound(w, "nothing to clear, or not yours to clear")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListUpcoming returns pending entries with due dates, soonest first.
func (h *Handlers) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}
	owner, _ := planScope(r, viewer)
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"plans": h.plans.Upcoming(owner, viewer),
	})
}

// GetPlanStats returns the viewer's total and completed counts.
func (h *Handlers) GetPlanStats(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(r)
	if !ok {
		respond.WriteBadRequest(w, viewerHeader+" header required")
		return
	}
	total, completed := h.plans.Stats(viewer)
	respond.WriteJSON(w, http.StatusOK, map[string]int{
		"total":     total,
		"completed": completed,
	})
}
