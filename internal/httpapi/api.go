// Package httpapi is the HTTP transport for the workflow engine: auth,
// markers, moderation and admin endpoints plus health and metrics.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"narcomap.org/internal/engine"
	"narcomap.org/internal/obs"
)

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	engine     *engine.Engine
	readyProbe ReadyProbe
	version    string
}

func New(e *engine.Engine, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     e,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/request-code", a.handleRequestCode)
	a.mux.HandleFunc("/v1/auth/verify-code", a.handleVerifyCode)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)

	// markers + moderation
	a.mux.HandleFunc("/v1/markers", a.handleMarkersCollection)
	a.mux.HandleFunc("/v1/markers/stats", a.handleMarkerStats)
	a.mux.HandleFunc("/v1/markers/", a.handleMarkerResource)
	a.mux.HandleFunc("/v1/moderation/pending", a.handlePending)
	a.mux.HandleFunc("/v1/moderation/bulk-approve", a.handleBulkApprove)
	a.mux.HandleFunc("/v1/moderation/stats", a.handleModeratorStats)

	// current actor
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/me/stats", a.handleMeStats)

	// admin
	a.mux.HandleFunc("/v1/admin/actors", a.handleActorsCollection)
	a.mux.HandleFunc("/v1/admin/actors/", a.handleActorResource)

	// live map stream
	a.mux.HandleFunc("/v1/stream/markers", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "narcomap-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "narcomap-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
