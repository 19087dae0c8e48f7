package auth

import "context"

// Store describes credential persistence used by the auth subsystem.
//
// Implementations must enforce username uniqueness atomically (returning
// ErrConflict), refuse username/password changes in Update (ErrImmutableField),
// and refuse self-deletion (ErrSelfDeletion) and removal of the last admin
// (ErrLastAdmin) in Delete.
type Store interface {
	// Create persists a new account, assigning ID and timestamps.
	Create(ctx context.Context, acct Account) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	// List returns all accounts in creation order.
	List(ctx context.Context) ([]Account, error)
	Update(ctx context.Context, id string, upd AccountUpdate) (Account, error)
	// SetPassword replaces the stored hash. Only the password-change flow calls it.
	SetPassword(ctx context.Context, id, passwordHash string) error
	// Transition moves the account from one approval status to another only
	// if it is currently in from. It fails with ErrNotFound or ErrInvalidState.
	Transition(ctx context.Context, id string, from, to Status) (Account, error)
	// Delete removes account id on behalf of actorID. It reports false when
	// no such account exists.
	Delete(ctx context.Context, actorID, id string) (bool, error)
	// CountByRole counts accounts whose role set contains role.
	CountByRole(ctx context.Context, role string) (int, error)
	// CountApproved counts approved accounts holding role. usable is the
	// subset that is active and not disabled.
	CountApproved(ctx context.Context, role string) (total, usable int, err error)
	// OldestApproved returns the approved, enabled account holding role that
	// was created first, or ErrNotFound.
	OldestApproved(ctx context.Context, role string) (Account, error)
}
