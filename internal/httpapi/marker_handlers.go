package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"narcomap.org/internal/auth"
	"narcomap.org/internal/markers"
)

type transitionRequest struct {
	Comment        string `json:"comment"`
	ReportPhotoURL string `json:"report_photo_url"`
}

func (a *API) handleMarkersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMarkers(w, r)
	case http.MethodPost:
		a.submitMarker(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMarkerResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/markers/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/history"); ok {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.markerHistory(w, r, id)
		return
	}
	for _, action := range []markers.Action{markers.ActionApprove, markers.ActionReject, markers.ActionResolve} {
		if id, ok := strings.CutSuffix(path, "/"+string(action)); ok {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.transitionMarker(w, r, id, action)
			return
		}
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getMarker(w, r, path)
	case http.MethodPatch:
		a.updateMarker(w, r, path)
	case http.MethodDelete:
		a.deleteMarker(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listMarkers(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actor, authed := auth.ActorFrom(r.Context())
	// Anonymous callers and plain users see the public (approved) map only,
	// except for a user's own submissions.
	if !actor.Role.AtLeast(auth.RoleModerator) {
		ownOnly := authed && f.CreatedBy == actor.ID
		if !ownOnly {
			f.Status = markers.StatusApproved
		}
	}

	items, err := a.engine.ListMarkers(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) submitMarker(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var in markers.SubmitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, err := a.engine.SubmitMarker(r.Context(), actor, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/markers/"+m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getMarker(w http.ResponseWriter, r *http.Request, id string) {
	m, err := a.engine.GetMarker(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	if m.Status != markers.StatusApproved &&
		m.CreatedBy != actor.ID && !actor.Role.AtLeast(auth.RoleModerator) {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) updateMarker(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var in markers.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, err := a.engine.UpdateMarker(r.Context(), actor, id, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) deleteMarker(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.DeleteMarker(r.Context(), actor, id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) transitionMarker(w http.ResponseWriter, r *http.Request, id string, action markers.Action) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	m, err := a.engine.TransitionMarker(r.Context(), actor, id, action, req.Comment, req.ReportPhotoURL)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) markerHistory(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	history, err := a.engine.MarkerHistory(r.Context(), actor, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history})
}

func (a *API) handleMarkerStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	stats, err := a.engine.MarkerStats(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) (markers.Filter, error) {
	q := r.URL.Query()
	f := markers.Filter{
		Category:  markers.Category(q.Get("category")),
		Severity:  markers.Severity(q.Get("severity")),
		Status:    markers.Status(q.Get("status")),
		CreatedBy: q.Get("created_by"),
	}

	var err error
	if f.Limit, err = parseIntParam(q.Get("limit"), 0); err != nil {
		return markers.Filter{}, errors.New("limit must be a non-negative integer")
	}
	if f.Offset, err = parseIntParam(q.Get("offset"), 0); err != nil {
		return markers.Filter{}, errors.New("offset must be a non-negative integer")
	}
	if raw := q.Get("created_after"); raw != "" {
		if f.CreatedAfter, err = time.Parse(time.RFC3339, raw); err != nil {
			return markers.Filter{}, errors.New("created_after must be an RFC 3339 timestamp")
		}
	}
	if raw := q.Get("created_before"); raw != "" {
		if f.CreatedBefore, err = time.Parse(time.RFC3339, raw); err != nil {
			return markers.Filter{}, errors.New("created_before must be an RFC 3339 timestamp")
		}
	}

	latRaw, lonRaw, radRaw := q.Get("center_lat"), q.Get("center_lon"), q.Get("radius_km")
	if latRaw != "" || lonRaw != "" || radRaw != "" {
		if latRaw == "" || lonRaw == "" || radRaw == "" {
			return markers.Filter{}, errors.New("center_lat, center_lon and radius_km must be provided together")
		}
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return markers.Filter{}, errors.New("center_lat must be a number")
		}
		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return markers.Filter{}, errors.New("center_lon must be a number")
		}
		radius, err := strconv.ParseFloat(radRaw, 64)
		if err != nil || radius <= 0 {
			return markers.Filter{}, errors.New("radius_km must be a positive number")
		}
		f.Center = &markers.Point{Lat: lat, Lon: lon}
		f.RadiusKM = radius
	}
	return f, nil
}

func parseIntParam(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}
