package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const notificationColumns = `id,user_id,message,link,read,created_at`

func scanNotification(s scanner) (domain.Notification, error) {
	var n domain.Notification
	var link sql.NullString
	var read int
	err := s.Scan(&n.ID, &n.UserID, &n.Message, &link, &read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.Link = link.String
	n.Read = read != 0
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, q DBTX, n domain.Notification) error {
	_, err := q.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Message, nullable(n.Link), boolInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return r.GetNotificationTx(ctx, r.DB, id)
}

func (r Repo) GetNotificationTx(ctx context.Context, q DBTX, id string) (domain.Notification, error) {
	return scanNotification(q.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

type NotificationFilters struct {
	UserID     string
	UnreadOnly bool
	Page
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	return r.ListNotificationsTx(ctx, r.DB, f)
}

func (r Repo) ListNotificationsTx(ctx context.Context, q DBTX, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.UnreadOnly {
		clauses = append(clauses, "read=0")
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := q.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications`+where(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips the read flag for a notification owned by userID.
func (r Repo) MarkNotificationRead(ctx context.Context, q DBTX, id, userID string) error {
	return affectedOrNotFound(q.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND user_id=?`, id, userID))
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, q DBTX, userID string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE user_id=? AND read=0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
