package pg

import (
	"context"
	"database/sql"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/notify"
)

var _ notify.InboxStore = (*Store)(nil)

const defaultNotificationLimit = 50

func (s *Store) SaveNotification(ctx context.Context, e notify.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, recipient_id, kind, severity, title, message, subject_id, actor, is_read, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullable(e.RecipientID), e.Kind, string(e.Severity), e.Title, e.Message,
		nullable(e.SubjectID), nullable(e.Actor), e.Read, e.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]notify.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient_id, kind, severity, title, message, subject_id, actor, is_read, created_at
		from notifications
		where recipient_id = $1 and (not $2 or not is_read)
		order by created_at desc, id desc
		limit $3
	`, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Entry
	for rows.Next() {
		var (
			e                         notify.Entry
			recipient, subject, actor sql.NullString
			severity                  string
		)
		if err := rows.Scan(&e.ID, &recipient, &e.Kind, &severity, &e.Title, &e.Message,
			&subject, &actor, &e.Read, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RecipientID = recipient.String
		e.SubjectID = subject.String
		e.Actor = actor.String
		e.Severity = auth.Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, recipientID, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update notifications set is_read = true where id = $1 and recipient_id = $2`, id, recipientID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notify.ErrNotFound
	}
	return nil
}
