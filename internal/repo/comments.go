package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const commentColumns = `id,parent_kind,parent_id,author_id,text,read_by_json,created_at,edited_at`

func scanComment(s scanner) (domain.Comment, error) {
	var c domain.Comment
	var readBy string
	var edited sql.NullString
	err := s.Scan(&c.ID, &c.ParentKind, &c.ParentID, &c.AuthorID, &c.Text, &readBy, &c.CreatedAt, &edited)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ReadBy = []string{}
	c.EditedAt = stringPtr(edited)
	return c, fromJSONText(readBy, &c.ReadBy)
}

func (r Repo) InsertComment(ctx context.Context, q DBTX, c domain.Comment) error {
	if c.ReadBy == nil {
		c.ReadBy = []string{}
	}
	readBy, err := jsonText(c.ReadBy)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO comments(`+commentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, string(c.ParentKind), c.ParentID, c.AuthorID, c.Text, readBy, c.CreatedAt, nullableStringPtr(c.EditedAt))
	return err
}

func (r Repo) UpdateComment(ctx context.Context, q DBTX, c domain.Comment) error {
	readBy, err := jsonText(c.ReadBy)
	if err != nil {
		return err
	}
	return affectedOrNotFound(q.ExecContext(ctx, `UPDATE comments SET text=?, read_by_json=?, edited_at=? WHERE id=?`,
		c.Text, readBy, nullableStringPtr(c.EditedAt), c.ID))
}

func (r Repo) GetCommentTx(ctx context.Context, q DBTX, id string) (domain.Comment, error) {
	return scanComment(q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id))
}

func (r Repo) ListComments(ctx context.Context, kind domain.EntityKind, parentID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE parent_kind=? AND parent_id=? ORDER BY created_at, id`, string(kind), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
