package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/stream"
)

const (
	sseHeartbeat = 15 * time.Second
	sseRetryMS   = 3000
)

// eventFilter scopes the account event stream: admins see everything,
// supervisors see operator-tier events and events addressed to them.
func eventFilter(p auth.Principal) stream.Filter {
	if p.HasRole(auth.RoleAdmin) {
		return nil
	}
	self := p.ID()
	return func(e stream.Event) bool {
		return e.RecipientID == self || slices.Contains(e.Roles, auth.RoleOperator)
	}
}

// handleEvents streams account lifecycle events as Server-Sent Events until
// the client goes away.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := a.events.Subscribe(r.Context(), eventFilter(principal))
	_, _ = fmt.Fprintf(w, "retry: %d\n: subscribed as %s\n\n", sseRetryMS, principal.Username())
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			seq++
			_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, evt.Kind, payload)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
