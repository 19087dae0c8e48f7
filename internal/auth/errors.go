package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials  = errors.New("auth: incorrect username or password")
	ErrUnauthenticated     = errors.New("auth: could not validate credentials")
	ErrInactiveAccount     = errors.New("auth: inactive or disabled account")
	ErrForbidden           = errors.New("auth: not enough permissions")
	ErrConflict            = errors.New("auth: username already registered")
	ErrNotFound            = errors.New("auth: not found")
	ErrInvalidState        = errors.New("auth: invalid state")
	ErrNoApproverAvailable = errors.New("auth: no approver available")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrImmutableField      = errors.New("auth: field cannot be changed")
	ErrSelfDeletion        = errors.New("auth: cannot delete own account")
	ErrLastAdmin           = errors.New("auth: cannot delete the last admin")
	ErrLastActiveAdmin     = errors.New("auth: cannot disable or demote the last active admin")
	ErrMissingSecret       = errors.New("auth: signing secret is not configured")
)

// Token codec failure kinds. Each one wraps ErrUnauthenticated so callers
// outside the codec only ever see a single outcome.
var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrMalformedToken   = fmt.Errorf("%w: malformed token", ErrUnauthenticated)
)

// ErrPasswordTooLong is returned for passwords the configured algorithm
// cannot hash without truncating them.
var ErrPasswordTooLong = fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
