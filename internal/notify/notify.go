// Package notify delivers account lifecycle notifications to logs, a
// persistent per-user inbox and live event subscribers.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/ids"
	"prodtrack.org/internal/obs"
	"prodtrack.org/internal/stream"
)

// Entry is a stored inbox notification.
type Entry struct {
	ID          string        `json:"id"`
	RecipientID string        `json:"recipient_id,omitempty"`
	Kind        string        `json:"kind"`
	Severity    auth.Severity `json:"severity"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	SubjectID   string        `json:"subject_id,omitempty"`
	Actor       string        `json:"actor,omitempty"`
	Read        bool          `json:"is_read"`
	CreatedAt   time.Time     `json:"created_at"`
}

// InboxStore persists entries per recipient.
type InboxStore interface {
	SaveNotification(ctx context.Context, e Entry) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Entry, error)
	MarkRead(ctx context.Context, recipientID, id string) error
}

// ErrNotFound is returned by MarkRead for unknown or foreign entries.
var ErrNotFound = errors.New("notify: notification not found")

// EntryFrom converts a notification into an unsaved inbox entry.
func EntryFrom(n auth.Notification) Entry {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	sev := n.Severity
	if sev == "" {
		sev = auth.SeverityInfo
	}
	return Entry{
		ID:          ids.New(),
		RecipientID: n.Recipient.ID,
		Kind:        n.Kind,
		Severity:    sev,
		Title:       n.Title,
		Message:     n.Message,
		SubjectID:   n.Subject.ID,
		Actor:       n.Actor,
		CreatedAt:   created,
	}
}

// Log writes every notification as a structured log line.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(l logrus.FieldLogger) *Log {
	if l == nil {
		l = obs.Logger().WithField("component", "notify")
	}
	return &Log{log: l}
}

func (l *Log) Notify(_ context.Context, n auth.Notification) error {
	entry := l.log.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"severity":  string(n.Severity),
		"recipient": n.Recipient.Username,
		"subject":   n.Subject.Username,
		"actor":     n.Actor,
	})
	switch n.Severity {
	case auth.SeverityWarning:
		entry.Warn(n.Title)
	case auth.SeverityError, auth.SeverityCritical:
		entry.Error(n.Title)
	default:
		entry.Info(n.Title)
	}
	return nil
}

// Inbox stores notifications addressed to a recipient.
// Broadcast notifications (no recipient) are skipped.
type Inbox struct {
	store InboxStore
}

func NewInbox(store InboxStore) *Inbox {
	return &Inbox{store: store}
}

func (i *Inbox) Notify(ctx context.Context, n auth.Notification) error {
	if strings.TrimSpace(n.Recipient.ID) == "" {
		return nil
	}
	return i.store.SaveNotification(ctx, EntryFrom(n))
}

// Stream publishes notifications to live subscribers.
type Stream struct {
	broker *stream.Broker
}

func NewStream(b *stream.Broker) *Stream {
	return &Stream{broker: b}
}

func (s *Stream) Notify(_ context.Context, n auth.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	s.broker.Publish(stream.Event{
		Kind:        n.Kind,
		Severity:    string(n.Severity),
		Title:       n.Title,
		Message:     n.Message,
		RecipientID: n.Recipient.ID,
		SubjectID:   n.Subject.ID,
		Subject:     n.Subject.Username,
		Roles:       n.Subject.Roles,
		Timestamp:   created,
	})
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []auth.Notifier

func (m Multi) Notify(ctx context.Context, n auth.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
