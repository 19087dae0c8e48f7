package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"prodtrack.org/internal/audit"
	"prodtrack.org/internal/obs"
)

// Accounts exposes account administration on top of a Store.
type Accounts struct {
	store  Store
	hasher *Hasher
	events *dispatcher
}

// NewAccounts constructs the account administration service. notifier may be nil.
func NewAccounts(store Store, hasher *Hasher, notifier Notifier) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is required")
	}
	return &Accounts{
		store:  store,
		hasher: hasher,
		events: &dispatcher{
			notifier: notifier,
			timeout:  defaultNotifyTimeout,
			log:      obs.Logger().WithField("component", "accounts"),
		},
	}, nil
}

// Wait blocks until every dispatched notification has finished.
func (s *Accounts) Wait() {
	s.events.wait()
}

func (s *Accounts) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

func (s *Accounts) Get(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.FindByID(ctx, id)
}

// Update applies a partial profile update. Username and password cannot be
// changed here.
func (s *Accounts) Update(ctx context.Context, id string, upd AccountUpdate) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if err := upd.CheckMutable(); err != nil {
		return Account{}, err
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return Account{}, err
		}
		upd.Email = &email
	}
	if upd.FullName != nil {
		name, err := normalizeFullName(*upd.FullName)
		if err != nil {
			return Account{}, err
		}
		upd.FullName = &name
	}
	if upd.Roles != nil {
		roles, err := normalizeRoles(upd.Roles)
		if err != nil {
			return Account{}, err
		}
		upd.Roles = roles
	}
	if err := s.guardLastActiveAdmin(ctx, id, upd); err != nil {
		return Account{}, err
	}
	acct, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return Account{}, err
	}
	_ = audit.LogEvent(ctx, audit.EventUpdated, map[string]any{
		"account_id": acct.ID,
		"username":   acct.Username,
		"roles":      acct.Roles,
		"status":     acct.Status,
		"is_active":  acct.Active,
		"disabled":   acct.Disabled,
	})
	return acct, nil
}

// guardLastActiveAdmin refuses an update that would leave no usable
// approved admin, whether by dropping the role, disabling or deactivating.
// Like the delete guard it is best effort under concurrent updates.
func (s *Accounts) guardLastActiveAdmin(ctx context.Context, id string, upd AccountUpdate) error {
	if upd.Roles == nil && upd.Active == nil && upd.Disabled == nil && upd.Status == nil {
		return nil
	}
	before, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !activeAdmin(before) {
		return nil
	}
	after := cloneAccount(before)
	upd.Apply(&after)
	if activeAdmin(after) {
		return nil
	}
	_, usable, err := s.store.CountApproved(ctx, RoleAdmin)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if usable <= 1 {
		return ErrLastActiveAdmin
	}
	return nil
}

func activeAdmin(a Account) bool {
	return a.Status == StatusApproved && a.Usable() && a.HasRole(RoleAdmin)
}

// ChangePassword is the dedicated password flow: the principal changes its
// own password after proving the current one.
func (s *Accounts) ChangePassword(ctx context.Context, actor Principal, current, next string) error {
	if utf8.RuneCountInString(next) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if err := s.hasher.Check(next); err != nil {
		return err
	}
	acct, err := s.store.FindByID(ctx, actor.ID())
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, acct.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.SetPassword(ctx, acct.ID, hash); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventPasswordChanged, map[string]any{"account_id": acct.ID})
	return nil
}

// Delete removes account id on behalf of actor. Self-deletion and removing
// the last admin are refused. The last-admin check is best effort under
// concurrent deletes on stores without transactions.
func (s *Accounts) Delete(ctx context.Context, actor Principal, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	target, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.store.Delete(ctx, actor.ID(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	_ = audit.LogEvent(ctx, audit.EventDeleted, map[string]any{
		"account_id": target.ID,
		"username":   target.Username,
	})
	s.events.dispatch(ctx, Notification{
		Kind:     EventDeleted,
		Severity: SeverityWarning,
		Subject:  target,
		Actor:    actor.Username(),
		Title:    "Account Deleted",
		Message:  fmt.Sprintf("User '%s' deleted by %s", target.Username, actor.Username()),
	})
	return nil
}
