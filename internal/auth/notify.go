package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event kinds emitted by the workflow and account administration.
const (
	EventRegistered = "registered"
	EventApproved   = "approved"
	EventRejected   = "rejected"
	EventDeleted    = "deleted"
)

// Notification is an out-of-band message about an account lifecycle event.
// Recipient is empty for broadcast events.
type Notification struct {
	Kind      string
	Severity  Severity
	Recipient Account
	Subject   Account
	Actor     string
	Title     string
	Message   string
	CreatedAt time.Time
}

// Notifier delivers notifications. Delivery failures are reported to the
// caller but never fail the operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// dispatcher sends notifications in the background, each bounded by
// timeout. It never blocks the caller and failures are only logged.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      logrus.FieldLogger

	inflight sync.WaitGroup
}

func (d *dispatcher) dispatch(ctx context.Context, n Notification) {
	if d.notifier == nil {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("panic", r).Error("notifier panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"kind":       n.Kind,
				"account_id": n.Subject.ID,
			}).Warn("notification dispatch failed")
		}
	}()
}

func (d *dispatcher) wait() {
	d.inflight.Wait()
}
