package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VerteraIO/edgefleet/internal/controlplane/dispatch"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
)

type listNodesResp struct {
	Items []nodes.EdgeNode `json:"items"`
	Total int              `json:"total"`
}

type heartbeatResp struct {
	Node        nodes.EdgeNode        `json:"node"`
	Assignments []dispatch.Assignment `json:"assignments"`
}

// registerNode handles POST /nodes/register
func (a *api) registerNode(w http.ResponseWriter, r *http.Request) {
	var req nodes.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.orch.Nodes.Register(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// listNodes handles GET /nodes with an optional ?status= filter.
func (a *api) listNodes(w http.ResponseWriter, r *http.Request) {
	all := a.orch.Nodes.List()
	if s := r.URL.Query().Get("status"); s != "" {
		want, err := nodes.ParseStatus(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filtered := all[:0]
		for _, n := range all {
			if n.Status == want {
				filtered = append(filtered, n)
			}
		}
		all = filtered
	}
	writeJSON(w, http.StatusOK, listNodesResp{Items: all, Total: len(all)})
}

func (a *api) getNode(w http.ResponseWriter, r *http.Request) {
	n, err := a.orch.Nodes.Get(chi.URLParam(r, "nodeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *api) nodeMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.orch.Nodes.Metrics(chi.URLParam(r, "nodeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// heartbeat handles POST /nodes/{nodeId}/heartbeat and returns the
// assignments queued for the node since its last heartbeat.
func (a *api) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req nodes.HeartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, assigned, err := a.orch.Heartbeat(chi.URLParam(r, "nodeId"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if assigned == nil {
		assigned = []dispatch.Assignment{}
	}
	writeJSON(w, http.StatusOK, heartbeatResp{Node: n, Assignments: assigned})
}

func (a *api) unregisterNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeId")
	if err := a.orch.UnregisterNode(id); err != nil {
		writeError(w, r, err)
		return
	}
	a.sec.Tokens.RevokeToken(id)
	w.WriteHeader(http.StatusNoContent)
}
