package auth

import (
	"fmt"
	"strings"
)

// Principal is the authenticated identity of a single request. Roles are
// the effective roles resolved from the store, not the token: they are
// empty while the account is not approved.
type Principal struct {
	Account Account
	Roles   []string
}

// NewPrincipal derives a principal from a freshly loaded account.
func NewPrincipal(acct Account) Principal {
	p := Principal{Account: acct}
	if acct.Status == StatusApproved {
		p.Roles = dedupeRoles(acct.Roles)
	}
	return p
}

// ID returns the account identifier.
func (p Principal) ID() string { return p.Account.ID }

// Username returns the account username.
func (p Principal) Username() string { return p.Account.Username }

// HasRole reports whether role is among the effective roles.
func (p Principal) HasRole(role string) bool {
	return containsRole(p.Roles, role)
}

// Require accepts the principal when it holds at least one of allowed.
// It never touches the store.
func Require(p Principal, allowed ...string) (Principal, error) {
	allowed = dedupeRoles(allowed)
	if len(allowed) == 0 {
		return Principal{}, fmt.Errorf("%w: no roles allowed", ErrForbidden)
	}
	if len(p.Roles) == 0 {
		return Principal{}, fmt.Errorf("%w: user has no roles assigned", ErrForbidden)
	}
	for _, role := range allowed {
		if p.HasRole(role) {
			return p, nil
		}
	}
	return Principal{}, fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(allowed, ", "))
}
