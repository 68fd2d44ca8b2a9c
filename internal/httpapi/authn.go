package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"narcomap.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Paths reachable without a token. Marker reads are public too but attach
// the actor when a valid token is presented.
var publicPaths = []string{
	"/v1/auth/request-code",
	"/v1/auth/verify-code",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/stream/markers",
	"/",
}

func isPublicPath(r *http.Request) bool {
	for _, p := range publicPaths {
		if r.URL.Path == p {
			return true
		}
	}
	// Marker reads are public; everything that mutates requires a token.
	if r.Method == http.MethodGet &&
		(r.URL.Path == "/v1/markers" || strings.HasPrefix(r.URL.Path, "/v1/markers/")) {
		return !strings.HasSuffix(r.URL.Path, "/history")
	}
	return false
}

// withAuth resolves the bearer token to an actor and stores it on the
// context. Public paths pass through without a token; a presented token is
// still validated so handlers can see the actor.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			if isPublicPath(r) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		actor, err := a.engine.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrInactiveActor):
				writeError(w, r, http.StatusForbidden, "actor is deactivated")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

// requireActor returns the authenticated actor or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return auth.Actor{}, false
	}
	return actor, true
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
