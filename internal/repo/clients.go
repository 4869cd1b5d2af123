package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const clientColumns = `id,name,contact_name,email,phone,created_by,created_at,updated_at`

func scanClient(s scanner) (domain.Client, error) {
	var c domain.Client
	var contact, email, phone sql.NullString
	err := s.Scan(&c.ID, &c.Name, &contact, &email, &phone, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.ContactName, c.Email, c.Phone = contact.String, email.String, phone.String
	return c, err
}

func (r Repo) InsertClient(ctx context.Context, q DBTX, c domain.Client) error {
	_, err := q.ExecContext(ctx, `INSERT INTO clients(`+clientColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.ContactName), nullable(c.Email), nullable(c.Phone), c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateClient(ctx context.Context, q DBTX, c domain.Client) error {
	return affectedOrNotFound(q.ExecContext(ctx, `UPDATE clients SET name=?, contact_name=?, email=?, phone=?, updated_at=? WHERE id=?`,
		c.Name, nullable(c.ContactName), nullable(c.Email), nullable(c.Phone), c.UpdatedAt, c.ID))
}

func (r Repo) DeleteClient(ctx context.Context, q DBTX, id string) error {
	return affectedOrNotFound(q.ExecContext(ctx, `DELETE FROM clients WHERE id=?`, id))
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	return r.GetClientTx(ctx, r.DB, id)
}

func (r Repo) GetClientTx(ctx context.Context, q DBTX, id string) (domain.Client, error) {
	return scanClient(q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=?`, id))
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
