package auth

import (
	"context"
	"errors"
	"testing"
)

func approvedPrincipal(roles ...string) Principal {
	return NewPrincipal(Account{ID: "acc", Username: "user", Roles: roles, Status: StatusApproved, Active: true})
}

func TestRequireIsOrAcrossRoles(t *testing.T) {
	operator := approvedPrincipal(RoleOperator)

	if _, err := Require(operator, RoleAdmin, RoleSupervisor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("operator must not pass admin|supervisor gate, got %v", err)
	}
	got, err := Require(operator, RoleOperator, RoleSupervisor)
	if err != nil {
		t.Fatalf("operator should pass operator|supervisor gate: %v", err)
	}
	if got.ID() != "acc" {
		t.Fatalf("Require must return the principal, got %+v", got)
	}
}

func TestRequireRejectsEmptyRoles(t *testing.T) {
	if _, err := Require(Principal{}, RoleOperator); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for principal without roles, got %v", err)
	}
	if _, err := Require(approvedPrincipal(RoleAdmin)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for empty allowed set, got %v", err)
	}
}

func TestRequireNormalizesRoleNames(t *testing.T) {
	if _, err := Require(approvedPrincipal("Admin"), " ADMIN "); err != nil {
		t.Fatalf("expected case-insensitive match: %v", err)
	}
}

func TestPendingPrincipalHasNoEffectiveRoles(t *testing.T) {
	p := NewPrincipal(Account{ID: "acc", Roles: []string{RoleSupervisor}, Status: StatusPending, Active: true})
	if len(p.Roles) != 0 {
		t.Fatalf("pending account must carry no effective roles, got %v", p.Roles)
	}
	if _, err := Require(p, RoleSupervisor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("pending supervisor must be forbidden, got %v", err)
	}
	if !p.Account.HasRole(RoleSupervisor) {
		t.Fatal("requested roles should remain visible on the account")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context must not yield a principal")
	}
	if _, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), Principal{})); ok {
		t.Fatal("principal without an account id must be ignored")
	}
	ctx := ContextWithPrincipal(context.Background(), approvedPrincipal(RoleOperator))
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ID() != "acc" || !p.HasRole(RoleOperator) {
		t.Fatalf("unexpected principal %+v (ok=%v)", p, ok)
	}
}
