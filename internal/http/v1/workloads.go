package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
)

type listWorkloadsResp struct {
	Items []workloads.Workload `json:"items"`
	Total int                  `json:"total"`
}

type scaleReq struct {
	Replicas int32 `json:"replicas"`
}

func (a *api) createWorkload(w http.ResponseWriter, r *http.Request) {
	var req workloads.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := a.orch.Workloads.Create(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (a *api) listWorkloads(w http.ResponseWriter, r *http.Request) {
	items := a.orch.Workloads.List()
	writeJSON(w, http.StatusOK, listWorkloadsResp{Items: items, Total: len(items)})
}

func (a *api) getWorkload(w http.ResponseWriter, r *http.Request) {
	wl, err := a.orch.Workloads.Get(chi.URLParam(r, "workloadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (a *api) workloadMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.orch.Workloads.Metrics(chi.URLParam(r, "workloadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) scaleWorkload(w http.ResponseWriter, r *http.Request) {
	var req scaleReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := a.orch.Workloads.Scale(chi.URLParam(r, "workloadId"), req.Replicas)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// scheduleWorkload runs a placement pass now instead of waiting for the next
// tick. It is the only place NoEligibleTarget reaches a caller.
func (a *api) scheduleWorkload(w http.ResponseWriter, r *http.Request) {
	d, err := a.orch.Scheduler.ScheduleWorkload(r.Context(), chi.URLParam(r, "workloadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// deleteWorkload returns the stopped record.
func (a *api) deleteWorkload(w http.ResponseWriter, r *http.Request) {
	wl, err := a.orch.DeleteWorkload(chi.URLParam(r, "workloadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// aggregateMetrics handles GET /metrics with the latest monitoring snapshot.
func (a *api) aggregateMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.orch.Monitor.Latest())
}
