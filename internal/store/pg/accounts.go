package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/ids"
)

var _ auth.Store = (*Store)(nil)

const accountColumns = `id, username, email, full_name, password_hash, roles, status, is_active, disabled, requested_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (auth.Account, error) {
	var (
		acct        auth.Account
		email       sql.NullString
		fullName    sql.NullString
		rawRoles    []byte
		status      string
		requestedBy sql.NullString
	)
	if err := row.Scan(&acct.ID, &acct.Username, &email, &fullName, &acct.PasswordHash, &rawRoles, &status,
		&acct.Active, &acct.Disabled, &requestedBy, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return auth.Account{}, err
	}
	acct.Email = email.String
	acct.FullName = fullName.String
	acct.Status = auth.Status(status)
	acct.RequestedBy = requestedBy.String
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &acct.Roles); err != nil {
			return auth.Account{}, fmt.Errorf("decode roles: %w", err)
		}
	}
	return acct, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeRoles(roles []string) ([]byte, error) {
	if roles == nil {
		roles = []string{}
	}
	return json.Marshal(roles)
}

func (s *Store) Create(ctx context.Context, acct auth.Account) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	roles, err := encodeRoles(acct.Roles)
	if err != nil {
		return auth.Account{}, fmt.Errorf("encode roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, full_name, password_hash, roles, status, is_active, disabled, requested_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+accountColumns,
		ids.New(), acct.Username, nullable(acct.Email), nullable(acct.FullName), acct.PasswordHash,
		roles, string(acct.Status), acct.Active, acct.Disabled, nullable(acct.RequestedBy))
	created, err := scanAccount(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Account{}, auth.ErrConflict
		}
		return auth.Account{}, err
	}
	return created, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from users
		where lower(username) = lower($1)
	`, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}

func (s *Store) FindByID(ctx context.Context, id string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from users
		where id = $1
	`, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}

func (s *Store) List(ctx context.Context) ([]auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+accountColumns+`
		from users
		order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Update(ctx context.Context, id string, upd auth.AccountUpdate) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	if err := upd.CheckMutable(); err != nil {
		return auth.Account{}, err
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Email != nil {
		add("email", nullable(*upd.Email))
	}
	if upd.FullName != nil {
		add("full_name", nullable(*upd.FullName))
	}
	if upd.Roles != nil {
		roles, err := encodeRoles(upd.Roles)
		if err != nil {
			return auth.Account{}, fmt.Errorf("encode roles: %w", err)
		}
		add("roles", roles)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Active != nil {
		add("is_active", *upd.Active)
	}
	if upd.Disabled != nil {
		add("disabled", *upd.Disabled)
	}
	if upd.RequestedBy != nil {
		add("requested_by", nullable(*upd.RequestedBy))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Account{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.Account{}, err
		}
		if aff == 0 {
			return auth.Account{}, auth.ErrNotFound
		}
	}
	return s.FindByID(ctx, id)
}

func (s *Store) SetPassword(ctx context.Context, id, passwordHash string) error {
	if s.db == nil {
		return errNoDB
	}
	if passwordHash == "" {
		return auth.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $1, updated_at = now() where id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, id string, from, to auth.Status) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		update users set status = $1, updated_at = now()
		where id = $2 and status = $3
		returning `+accountColumns,
		string(to), id, string(from)))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where id = $1)`, id).Scan(&exists); err != nil {
		return auth.Account{}, err
	}
	if !exists {
		return auth.Account{}, auth.ErrNotFound
	}
	return auth.Account{}, auth.ErrInvalidState
}

// Delete runs in a transaction holding a row lock on the target. The admin
// count is not locked, so two concurrent deletes of the last two admins can
// both succeed.
func (s *Store) Delete(ctx context.Context, actorID, id string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	id = strings.TrimSpace(id)
	if id == strings.TrimSpace(actorID) {
		return false, auth.ErrSelfDeletion
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var rawRoles []byte
	err = tx.QueryRowContext(ctx, `select roles from users where id = $1 for update`, id).Scan(&rawRoles)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var roles []string
	if err := json.Unmarshal(rawRoles, &roles); err != nil {
		return false, fmt.Errorf("decode roles: %w", err)
	}
	for _, r := range roles {
		if r != auth.RoleAdmin {
			continue
		}
		var admins int
		if err := tx.QueryRowContext(ctx, `select count(*) from users where roles @> jsonb_build_array($1::text)`, auth.RoleAdmin).Scan(&admins); err != nil {
			return false, err
		}
		if admins <= 1 {
			return false, auth.ErrLastAdmin
		}
		break
	}
	if _, err := tx.ExecContext(ctx, `delete from users where id = $1`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CountByRole(ctx context.Context, role string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users where roles @> jsonb_build_array($1::text)`, role).Scan(&n)
	return n, err
}

func (s *Store) CountApproved(ctx context.Context, role string) (total, usable int, err error) {
	if s.db == nil {
		return 0, 0, errNoDB
	}
	err = s.db.QueryRowContext(ctx, `
		select count(*), count(*) filter (where is_active and not disabled)
		from users
		where status = 'approved' and roles @> jsonb_build_array($1::text)
	`, role).Scan(&total, &usable)
	return total, usable, err
}

func (s *Store) OldestApproved(ctx context.Context, role string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from users
		where status = 'approved' and is_active and not disabled
		  and roles @> jsonb_build_array($1::text)
		order by created_at, id
		limit 1
	`, role))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}
