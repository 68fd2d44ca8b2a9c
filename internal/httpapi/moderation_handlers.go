package httpapi

import (
	"net/http"
	"strings"
)

type bulkApproveRequest struct {
	MarkerIDs []string `json:"marker_ids"`
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	items, err := a.engine.PendingMarkers(r.Context(), actor)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req bulkApproveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.MarkerIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "marker_ids are required")
		return
	}
	if len(req.MarkerIDs) > 100 {
		writeError(w, r, http.StatusBadRequest, "at most 100 markers per batch")
		return
	}

	res, err := a.engine.BulkApprove(r.Context(), actor, req.MarkerIDs)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleModeratorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if target == "" {
		target = actor.ID
	}
	stats, err := a.engine.ModeratorStats(r.Context(), actor, target)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
