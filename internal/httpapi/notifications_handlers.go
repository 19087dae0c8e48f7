package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/notify"
)

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if a.inbox == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	unread := false
	if raw := q.Get("unread"); raw != "" {
		if unread, err = strconv.ParseBool(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid unread flag")
			return
		}
	}
	entries, err := a.inbox.ListNotifications(r.Context(), principal.ID(), unread, limit)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if entries == nil {
		entries = []notify.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if a.inbox == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "notification not found")
		return
	}
	err := a.inbox.MarkRead(r.Context(), principal.ID(), id)
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "notification not found")
	case err != nil:
		handleAuthError(w, r, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
