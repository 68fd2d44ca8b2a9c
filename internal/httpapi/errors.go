package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"narcomap.org/internal/auth"
	"narcomap.org/internal/markers"
)

// handleDomainError maps domain sentinels to HTTP status codes. Structured
// details (retry-after, conflicting distance) ride along in the body.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *auth.RateLimitedError
	if errors.As(err, &rle) {
		retry := int(time.Until(rle.RetryAfter).Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeErrorPayload(w, r, http.StatusTooManyRequests, "rate limited", map[string]any{
			"retry_after": rle.RetryAfter.UTC().Format(time.RFC3339),
		})
		return
	}
	var dup *markers.DuplicateLocationError
	if errors.As(err, &dup) {
		writeErrorPayload(w, r, http.StatusConflict, "duplicate location", map[string]any{
			"distance_meters":     dup.DistanceMeters,
			"min_distance_meters": dup.MinDistanceMeters,
		})
		return
	}

	switch {
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, auth.ErrInvalidPhone), errors.Is(err, markers.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrInactiveActor):
		writeError(w, r, http.StatusForbidden, "actor is deactivated")
	case errors.Is(err, auth.ErrInsufficientRole), errors.Is(err, markers.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, markers.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, markers.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, markers.ErrDuplicateLocation):
		writeError(w, r, http.StatusConflict, "duplicate location")
	case errors.Is(err, auth.ErrDispatchFailed):
		writeError(w, r, http.StatusBadGateway, "code dispatch failed")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, msg, nil)
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, msg string, details map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range details {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
