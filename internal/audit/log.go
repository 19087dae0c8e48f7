// Package audit writes security-relevant account events to the shared
// structured log, tagged with the request and the acting account.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"prodtrack.org/internal/obs"
)

const (
	EventLoginFailed     = "auth.login.failed"
	EventTokenIssued     = "auth.token.issued"
	EventRegistered      = "account.registered"
	EventUpdated         = "account.updated"
	EventPasswordChanged = "account.password_changed"
	EventDeleted         = "account.deleted"
)

// Decision names the event for an approval outcome ("approved", "rejected").
func Decision(status string) string {
	return "account." + status
}

// Actor identifies who performed an audited action.
type Actor struct {
	ID       string
	Username string
}

// scope is everything audit knows about the current request. It is copied on
// every With* call so parents never observe values set by children.
type scope struct {
	requestID string
	actor     Actor
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithRequestID records the request id for later audit entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	s := scopeFrom(ctx)
	s.requestID = requestID
	return context.WithValue(ctx, scopeKey{}, s)
}

// RequestIDFromContext returns the id recorded by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// WithActor records the authenticated account acting in ctx.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if strings.TrimSpace(actor.ID) == "" {
		return ctx
	}
	s := scopeFrom(ctx)
	s.actor = actor
	return context.WithValue(ctx, scopeKey{}, s)
}

// LogEvent writes one audit entry. Request id, actor and trace id are taken
// from ctx when present.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	s := scopeFrom(ctx)
	if s.requestID != "" {
		entry["request_id"] = s.requestID
	}
	if s.actor.ID != "" {
		entry["user_id"] = s.actor.ID
		if s.actor.Username != "" {
			entry["username"] = s.actor.Username
		}
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			entry["trace_id"] = sc.TraceID().String()
		}
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	entry["fields"] = copied

	obs.Logger().WithFields(entry).Info("audit")
	return nil
}
