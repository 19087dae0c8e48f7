package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"prodtrack.org/internal/audit"
	"prodtrack.org/internal/obs"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
	maxFullNameLen = 100

	defaultNotifyTimeout = 10 * time.Second
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	rolePattern     = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
)

// RegisterRequest is the input to Workflow.Register.
type RegisterRequest struct {
	Username string
	Password string
	Email    string
	FullName string
	Roles    []string
}

// Workflow is the registration and approval state machine.
type Workflow struct {
	store  Store
	hasher *Hasher
	policy Policy
	events dispatcher
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithNotifier sets where lifecycle notifications are sent.
func WithNotifier(n Notifier) WorkflowOption {
	return func(w *Workflow) { w.events.notifier = n }
}

// WithPolicy replaces the escalation policy.
func WithPolicy(p Policy) WorkflowOption {
	return func(w *Workflow) {
		if len(p) > 0 {
			w.policy = p
		}
	}
}

// WithNotifyTimeout bounds each notification dispatch.
func WithNotifyTimeout(d time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if d > 0 {
			w.events.timeout = d
		}
	}
}

// WithWorkflowLogger overrides the logger.
func WithWorkflowLogger(l logrus.FieldLogger) WorkflowOption {
	return func(w *Workflow) {
		if l != nil {
			w.events.log = l
		}
	}
}

// NewWorkflow constructs a Workflow over store.
func NewWorkflow(store Store, hasher *Hasher, opts ...WorkflowOption) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is required")
	}
	w := &Workflow{
		store:  store,
		hasher: hasher,
		policy: EscalationPolicy,
	}
	w.events.timeout = defaultNotifyTimeout
	w.events.log = obs.Logger().WithField("component", "workflow")
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Wait blocks until every dispatched notification has finished.
func (w *Workflow) Wait() {
	w.events.wait()
}

// Register creates an account whose initial status follows the escalation
// policy for the requested roles.
func (w *Workflow) Register(ctx context.Context, req RegisterRequest) (Account, error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.register")
	defer span.End()

	acct, err := w.register(ctx, req)
	if err != nil {
		span.RecordError(err)
		return Account{}, err
	}
	span.SetAttributes(attribute.String("auth.status", string(acct.Status)))
	obs.ObserveRegistration(string(acct.Status))
	return acct, nil
}

func (w *Workflow) register(ctx context.Context, req RegisterRequest) (Account, error) {
	req, err := normalizeRegistration(req)
	if err != nil {
		return Account{}, err
	}
	if err := w.hasher.Check(req.Password); err != nil {
		return Account{}, err
	}

	status := StatusApproved
	var approver *Account
	tier, gated := w.policy.TierFor(req.Roles)
	if gated {
		first, err := w.store.OldestApproved(ctx, tier.Approver)
		switch {
		case err == nil:
			status = StatusPending
			approver = &first
		case errors.Is(err, ErrNotFound) && tier.Bootstrap:
			// first account of the top tier approves itself, but only while
			// no approved holder exists at all, usable or not
			total, _, err := w.store.CountApproved(ctx, tier.Approver)
			if err != nil {
				return Account{}, fmt.Errorf("count approvers: %w", err)
			}
			if total > 0 {
				return Account{}, fmt.Errorf("%w: no active %s to approve %s registration", ErrNoApproverAvailable, tier.Approver, tier.Role)
			}
		case errors.Is(err, ErrNotFound):
			return Account{}, fmt.Errorf("%w: no approved %s to approve %s registration", ErrNoApproverAvailable, tier.Approver, tier.Role)
		default:
			return Account{}, fmt.Errorf("find approver: %w", err)
		}
	}

	hash, err := w.hasher.Hash(req.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	acct := Account{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Roles:        req.Roles,
		Status:       status,
		Active:       true,
	}
	if approver != nil {
		acct.RequestedBy = approver.ID
	}
	created, err := w.store.Create(ctx, acct)
	if err != nil {
		return Account{}, err
	}

	_ = audit.LogEvent(ctx, audit.EventRegistered, map[string]any{
		"account_id":   created.ID,
		"username":     created.Username,
		"roles":        created.Roles,
		"status":       created.Status,
		"requested_by": created.RequestedBy,
	})

	n := Notification{
		Kind:      EventRegistered,
		Severity:  SeverityInfo,
		Subject:   created,
		Title:     "New Registration",
		Message:   fmt.Sprintf("User '%s' registered with roles %s", created.Username, strings.Join(created.Roles, ", ")),
		CreatedAt: created.CreatedAt,
	}
	if approver != nil {
		n.Recipient = *approver
		n.Severity = SeverityWarning
		n.Title = fmt.Sprintf("New %s Registration Request", titleCase(tier.Role))
		n.Message = fmt.Sprintf("User '%s' requested %s access and awaits your approval", created.Username, tier.Role)
	}
	w.events.dispatch(ctx, n)
	return created, nil
}

// Approve moves a pending account to approved.
func (w *Workflow) Approve(ctx context.Context, actor Principal, id string) (Account, error) {
	return w.decide(ctx, actor, id, StatusApproved)
}

// Reject moves a pending account to rejected. It is guarded exactly like Approve.
func (w *Workflow) Reject(ctx context.Context, actor Principal, id string) (Account, error) {
	return w.decide(ctx, actor, id, StatusRejected)
}

func (w *Workflow) decide(ctx context.Context, actor Principal, id string, to Status) (Account, error) {
	action := "approve"
	if to == StatusRejected {
		action = "reject"
	}
	ctx, span := obs.Tracer().Start(ctx, "auth."+action)
	defer span.End()

	acct, err := w.transition(ctx, actor, id, to)
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalidState):
		result = "invalid_state"
	case errors.Is(err, ErrForbidden):
		result = "forbidden"
	case err != nil:
		result = "error"
	}
	obs.ObserveApproval(action, result)
	span.SetAttributes(attribute.String("auth.result", result))
	if err != nil {
		span.RecordError(err)
		return Account{}, err
	}

	_ = audit.LogEvent(ctx, audit.Decision(string(to)), map[string]any{
		"account_id": acct.ID,
		"username":   acct.Username,
		"actor_id":   actor.ID(),
	})
	severity := SeverityInfo
	if to == StatusRejected {
		severity = SeverityWarning
	}
	w.events.dispatch(ctx, Notification{
		Kind:      string(to),
		Severity:  severity,
		Recipient: acct,
		Subject:   acct,
		Actor:     actor.Username(),
		Title:     "Registration " + titleCase(string(to)),
		Message:   fmt.Sprintf("User '%s' %s by %s", acct.Username, to, actor.Username()),
		CreatedAt: acct.UpdatedAt,
	})
	return acct, nil
}

func (w *Workflow) transition(ctx context.Context, actor Principal, id string, to Status) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrNotFound
	}
	target, err := w.store.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if target.Status != StatusPending {
		return Account{}, fmt.Errorf("%w: user is not pending approval", ErrInvalidState)
	}
	tier, gated := w.policy.TierFor(target.Roles)
	if !gated {
		return Account{}, fmt.Errorf("%w: user role not eligible for approval", ErrInvalidState)
	}

	var first *Account
	if tier.FirstApproverOnly {
		acct, err := w.store.OldestApproved(ctx, tier.Approver)
		switch {
		case err == nil:
			first = &acct
		case !errors.Is(err, ErrNotFound):
			return Account{}, fmt.Errorf("find approver: %w", err)
		}
	}
	if !tier.CanApprove(actor, first) {
		if tier.FirstApproverOnly {
			return Account{}, fmt.Errorf("%w: only the first %s can decide %s requests", ErrForbidden, tier.Approver, tier.Role)
		}
		return Account{}, fmt.Errorf("%w: only %ss can decide %s requests", ErrForbidden, tier.Approver, tier.Role)
	}

	return w.store.Transition(ctx, target.ID, StatusPending, to)
}

func normalizeRegistration(req RegisterRequest) (RegisterRequest, error) {
	req.Username = strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(req.Username); n < minUsernameLen || n > maxUsernameLen {
		return req, fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if !usernamePattern.MatchString(req.Username) {
		return req, fmt.Errorf("%w: username contains invalid characters", ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLen {
		return req, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return req, err
	}
	req.Email = email
	fullName, err := normalizeFullName(req.FullName)
	if err != nil {
		return req, err
	}
	req.FullName = fullName
	roles, err := normalizeRoles(req.Roles)
	if err != nil {
		return req, err
	}
	if len(roles) == 0 {
		roles = []string{RoleOperator}
	}
	req.Roles = roles
	return req, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	if !emailPattern.MatchString(email) {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return strings.ToLower(email), nil
}

func normalizeFullName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxFullNameLen {
		return "", fmt.Errorf("%w: full name must be at most %d characters", ErrInvalidInput, maxFullNameLen)
	}
	return name, nil
}

func normalizeRoles(roles []string) ([]string, error) {
	roles = dedupeRoles(roles)
	for _, r := range roles {
		if !rolePattern.MatchString(r) {
			return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, r)
		}
	}
	return roles, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
