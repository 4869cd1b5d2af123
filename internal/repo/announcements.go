package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const announcementColumns = `id,title,body,author_id,target_audience,target_roles_json,viewed_by_json,expires_at,is_active,created_at`

func scanAnnouncement(s scanner) (domain.Announcement, error) {
	var a domain.Announcement
	var roles, viewed string
	var expires sql.NullString
	var active int
	err := s.Scan(&a.ID, &a.Title, &a.Body, &a.AuthorID, &a.TargetAudience, &roles, &viewed, &expires, &active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ExpiresAt = stringPtr(expires)
	a.IsActive = active != 0
	a.ViewedBy = []string{}
	if err := fromJSONText(roles, &a.TargetRoles); err != nil {
		return a, err
	}
	return a, fromJSONText(viewed, &a.ViewedBy)
}

func (r Repo) InsertAnnouncement(ctx context.Context, q DBTX, a domain.Announcement) error {
	if a.ViewedBy == nil {
		a.ViewedBy = []string{}
	}
	if a.TargetRoles == nil {
		a.TargetRoles = []string{}
	}
	roles, err := jsonText(a.TargetRoles)
	if err != nil {
		return err
	}
	viewed, err := jsonText(a.ViewedBy)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO announcements(`+announcementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Body, a.AuthorID, a.TargetAudience, roles, viewed, nullableStringPtr(a.ExpiresAt), boolInt(a.IsActive), a.CreatedAt)
	return err
}

func (r Repo) UpdateAnnouncementViews(ctx context.Context, q DBTX, id string, viewedBy []string) error {
	viewed, err := jsonText(viewedBy)
	if err != nil {
		return err
	}
	return affectedOrNotFound(q.ExecContext(ctx, `UPDATE announcements SET viewed_by_json=? WHERE id=?`, viewed, id))
}

func (r Repo) GetAnnouncementTx(ctx context.Context, q DBTX, id string) (domain.Announcement, error) {
	return scanAnnouncement(q.QueryRowContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id=?`, id))
}

func (r Repo) ListActiveAnnouncements(ctx context.Context) ([]domain.Announcement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE is_active=1 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// DeactivateExpired clears is_active on announcements whose expiry is at or before now and
// returns their ids.
func (r Repo) DeactivateExpired(ctx context.Context, q DBTX, now string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM announcements WHERE is_active=1 AND expires_at IS NOT NULL AND expires_at<=?`, now)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `UPDATE announcements SET is_active=0 WHERE id=?`, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
