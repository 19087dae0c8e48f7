package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestAccounts(t *testing.T, store Store, notifier Notifier) *Accounts {
	t.Helper()
	a, err := NewAccounts(store, newTestHasher(t), notifier)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return a
}

func TestAccountsUpdateRejectsImmutableFields(t *testing.T) {
	store := NewMemoryStore()
	accounts := newTestAccounts(t, store, nil)
	acct, err := store.Create(context.Background(), Account{Username: "alice", PasswordHash: "h", Roles: []string{RoleOperator}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "mallory"
	if _, err := accounts.Update(context.Background(), acct.ID, AccountUpdate{Username: &name}); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected ErrImmutableField for username, got %v", err)
	}
	hash := "forged"
	if _, err := accounts.Update(context.Background(), acct.ID, AccountUpdate{PasswordHash: &hash}); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected ErrImmutableField for password, got %v", err)
	}
	// the store enforces it too, independent of the service
	if _, err := store.Update(context.Background(), acct.ID, AccountUpdate{Username: &name}); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("store must reject username change, got %v", err)
	}

	email := "Alice@Example.com"
	disabled := true
	updated, err := accounts.Update(context.Background(), acct.ID, AccountUpdate{Email: &email, Disabled: &disabled, Roles: []string{"Supervisor"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Email != "alice@example.com" || !updated.Disabled || !updated.HasRole(RoleSupervisor) {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if updated.Username != "alice" {
		t.Fatalf("username changed: %q", updated.Username)
	}
}

func TestAccountsUpdateValidation(t *testing.T) {
	store := NewMemoryStore()
	accounts := newTestAccounts(t, store, nil)
	acct, err := store.Create(context.Background(), Account{Username: "alice", Roles: []string{RoleOperator}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad := "nope"
	if _, err := accounts.Update(context.Background(), acct.ID, AccountUpdate{Email: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for email, got %v", err)
	}
	if _, err := accounts.Update(context.Background(), acct.ID, AccountUpdate{Roles: []string{}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty roles, got %v", err)
	}
	if _, err := accounts.Update(context.Background(), "missing", AccountUpdate{Email: nil}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountsDeleteGuards(t *testing.T) {
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	accounts := newTestAccounts(t, store, notifier)
	ctx := context.Background()

	admin, err := store.Create(ctx, Account{Username: "root", Roles: []string{RoleAdmin}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := store.Create(ctx, Account{Username: "ops", Roles: []string{RoleSupervisor, RoleAdmin}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	op, err := store.Create(ctx, Account{Username: "op", Roles: []string{RoleOperator}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := accounts.Delete(ctx, NewPrincipal(admin), admin.ID); !errors.Is(err, ErrSelfDeletion) {
		t.Fatalf("expected ErrSelfDeletion, got %v", err)
	}
	if err := accounts.Delete(ctx, NewPrincipal(admin), op.ID); err != nil {
		t.Fatalf("Delete operator: %v", err)
	}
	if err := accounts.Delete(ctx, NewPrincipal(admin), other.ID); err != nil {
		t.Fatalf("Delete second admin: %v", err)
	}
	// root is now the sole admin; a non-admin actor cannot remove it either
	if err := accounts.Delete(ctx, NewPrincipal(op), admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	if err := accounts.Delete(ctx, NewPrincipal(admin), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, _ := store.CountByRole(ctx, RoleAdmin); n != 1 {
		t.Fatalf("expected one admin left, got %d", n)
	}
	accounts.Wait()
	var deletions int
	for _, n := range notifier.all() {
		if n.Kind == EventDeleted {
			deletions++
		}
	}
	if deletions != 2 {
		t.Fatalf("expected 2 deletion notifications, got %d", deletions)
	}
}

func TestAccountsChangePassword(t *testing.T) {
	store := NewMemoryStore()
	accounts := newTestAccounts(t, store, nil)
	hash, err := accounts.hasher.Hash("old-secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	acct, err := store.Create(context.Background(), Account{Username: "alice", PasswordHash: hash, Roles: []string{RoleOperator}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p := NewPrincipal(acct)

	if err := accounts.ChangePassword(context.Background(), p, "wrong", "new-secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := accounts.ChangePassword(context.Background(), p, "old-secret", "123"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
	if err := accounts.ChangePassword(context.Background(), p, "old-secret", strings.Repeat("x", 80)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := accounts.ChangePassword(context.Background(), p, "old-secret", "new-secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	stored, err := store.FindByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !accounts.hasher.Verify("new-secret", stored.PasswordHash) {
		t.Fatal("new password not stored")
	}
}

func TestAccountsUpdateKeepsOneActiveAdmin(t *testing.T) {
	store := NewMemoryStore()
	accounts := newTestAccounts(t, store, nil)
	ctx := context.Background()

	root, err := store.Create(ctx, Account{Username: "root", Roles: []string{RoleAdmin}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	yes, no := true, false
	for name, upd := range map[string]AccountUpdate{
		"disable":    {Disabled: &yes},
		"deactivate": {Active: &no},
		"demote":     {Roles: []string{RoleSupervisor}},
	} {
		if _, err := accounts.Update(ctx, root.ID, upd); !errors.Is(err, ErrLastActiveAdmin) {
			t.Fatalf("%s: expected ErrLastActiveAdmin, got %v", name, err)
		}
	}
	name := "Root User"
	if _, err := accounts.Update(ctx, root.ID, AccountUpdate{FullName: &name, Roles: []string{RoleAdmin, RoleSupervisor}}); err != nil {
		t.Fatalf("harmless update: %v", err)
	}

	// a disabled second admin does not count as a replacement
	spare, err := store.Create(ctx, Account{Username: "spare", Roles: []string{RoleAdmin}, Status: StatusApproved, Active: true, Disabled: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := accounts.Update(ctx, root.ID, AccountUpdate{Disabled: &yes}); !errors.Is(err, ErrLastActiveAdmin) {
		t.Fatalf("expected ErrLastActiveAdmin with only a disabled spare, got %v", err)
	}
	if _, err := accounts.Update(ctx, spare.ID, AccountUpdate{Disabled: &no}); err != nil {
		t.Fatalf("re-enable spare: %v", err)
	}
	updated, err := accounts.Update(ctx, root.ID, AccountUpdate{Disabled: &yes})
	if err != nil {
		t.Fatalf("disable with a usable spare: %v", err)
	}
	if !updated.Disabled {
		t.Fatalf("expected root disabled, got %+v", updated)
	}
}

func TestAccountsDeleteDoesNotWaitForNotifier(t *testing.T) {
	store := NewMemoryStore()
	release := make(chan struct{})
	blocking := NotifierFunc(func(ctx context.Context, _ Notification) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	accounts := newTestAccounts(t, store, blocking)
	ctx := context.Background()

	admin, err := store.Create(ctx, Account{Username: "root", Roles: []string{RoleAdmin}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	op, err := store.Create(ctx, Account{Username: "op", Roles: []string{RoleOperator}, Status: StatusApproved, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- accounts.Delete(ctx, NewPrincipal(admin), op.ID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delete blocked on notification dispatch")
	}
	close(release)
	accounts.Wait()
}
