package auth

import (
	"strings"
	"time"
)

// Built-in roles. The role set is open; these three are the ranked tiers of
// the escalation policy.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleOperator   = "operator"
)

// Status is the approval state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known approval states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Account is the identity root persisted by a Store.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Status       Status    `json:"status"`
	Active       bool      `json:"is_active"`
	Disabled     bool      `json:"disabled"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Usable reports whether the account may authenticate at all.
func (a Account) Usable() bool {
	return a.Active && !a.Disabled
}

// HasRole reports whether the persisted role set contains role.
func (a Account) HasRole(role string) bool {
	return containsRole(a.Roles, role)
}

// AccountUpdate carries a partial update. Nil fields are left untouched.
// Username and PasswordHash exist only so that stores can refuse them:
// both have dedicated flows.
type AccountUpdate struct {
	Username     *string
	PasswordHash *string
	Email        *string
	FullName     *string
	Roles        []string
	Status       *Status
	Active       *bool
	Disabled     *bool
	RequestedBy  *string
}

// CheckMutable rejects updates that try to change immutable fields through
// the generic update path.
func (u AccountUpdate) CheckMutable() error {
	if u.Username != nil {
		return ErrImmutableField
	}
	if u.PasswordHash != nil {
		return ErrImmutableField
	}
	if u.Roles != nil && len(dedupeRoles(u.Roles)) == 0 {
		return ErrInvalidInput
	}
	if u.Status != nil && !u.Status.Valid() {
		return ErrInvalidInput
	}
	return nil
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Username == nil && u.PasswordHash == nil && u.Email == nil &&
		u.FullName == nil && u.Roles == nil && u.Status == nil &&
		u.Active == nil && u.Disabled == nil && u.RequestedBy == nil
}

// Apply copies the set fields of u onto a.
func (u AccountUpdate) Apply(a *Account) {
	if u.Email != nil {
		a.Email = *u.Email
	}
	if u.FullName != nil {
		a.FullName = *u.FullName
	}
	if u.Roles != nil {
		a.Roles = dedupeRoles(u.Roles)
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Active != nil {
		a.Active = *u.Active
	}
	if u.Disabled != nil {
		a.Disabled = *u.Disabled
	}
	if u.RequestedBy != nil {
		a.RequestedBy = *u.RequestedBy
	}
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

func containsRole(roles []string, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func sameRoles(a, b []string) bool {
	a, b = dedupeRoles(a), dedupeRoles(b)
	if len(a) != len(b) {
		return false
	}
	for _, r := range a {
		if !containsRole(b, r) {
			return false
		}
	}
	return true
}
