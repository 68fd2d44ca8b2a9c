package httpapi

import (
	"net/http"
	"strings"

	"narcomap.org/internal/auth"
)

type actorPatchRequest struct {
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleMeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stats, err := a.engine.StatsForActor(r.Context(), actor.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleActorsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	items, err := a.engine.ListActors(r.Context(), actor)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// Optional role/active filters.
	q := r.URL.Query()
	roleFilter := strings.TrimSpace(q.Get("role"))
	activeFilter := strings.TrimSpace(q.Get("active"))
	if roleFilter != "" || activeFilter != "" {
		filtered := items[:0:0]
		for _, it := range items {
			if roleFilter != "" && string(it.Role) != roleFilter {
				continue
			}
			if activeFilter == "true" && !it.Active {
				continue
			}
			if activeFilter == "false" && it.Active {
				continue
			}
			filtered = append(filtered, it)
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleActorResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/actors/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		target, err := a.engine.GetActor(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, target)

	case http.MethodPatch:
		var req actorPatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Role == nil && req.Active == nil {
			writeError(w, r, http.StatusBadRequest, "role or active is required")
			return
		}

		var target auth.Actor
		var err error
		if req.Role != nil {
			role, perr := auth.ParseRole(*req.Role)
			if perr != nil {
				writeError(w, r, http.StatusBadRequest, perr.Error())
				return
			}
			if target, err = a.engine.SetActorRole(r.Context(), actor, id, role); err != nil {
				handleDomainError(w, r, err)
				return
			}
		}
		if req.Active != nil {
			if target, err = a.engine.SetActorActive(r.Context(), actor, id, *req.Active); err != nil {
				handleDomainError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, target)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}
