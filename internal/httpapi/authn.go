package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"prodtrack.org/internal/audit"
	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	msgUnauthenticated    = "could not validate credentials"
	msgInvalidCredentials = "incorrect username or password"
)

// withAuth resolves the bearer token into a principal. Requests without a
// valid token never reach next.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithActor(ctx, audit.Actor{ID: principal.ID(), Username: principal.Username()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits principals holding at least one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if _, err := auth.Require(principal, roles...); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, publicMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, msg)
}

// handleAuthError maps auth errors to HTTP responses. Token failure kinds
// are collapsed into a single message.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized(w, r, msgInvalidCredentials)
	case errors.Is(err, auth.ErrUnauthenticated):
		unauthorized(w, r, msgUnauthenticated)
	case errors.Is(err, auth.ErrInactiveAccount):
		writeError(w, r, http.StatusBadRequest, "inactive user")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, publicMessage(err))
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusBadRequest, "username already registered")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, auth.ErrNoApproverAvailable),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrImmutableField),
		errors.Is(err, auth.ErrSelfDeletion),
		errors.Is(err, auth.ErrLastAdmin),
		errors.Is(err, auth.ErrLastActiveAdmin):
		writeError(w, r, http.StatusBadRequest, publicMessage(err))
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
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
