package repo

import (
	"context"
	"database/sql"
	"strings"

	"agencyops/internal/domain"
)

const teammateColumns = `id,name,email,phone,role,approved,salary,password_hash,created_at,updated_at`

func scanTeammate(s scanner) (domain.Teammate, error) {
	var tm domain.Teammate
	var phone sql.NullString
	var approved int
	err := s.Scan(&tm.ID, &tm.Name, &tm.Email, &phone, &tm.Role, &approved, &tm.Salary, &tm.PasswordHash, &tm.CreatedAt, &tm.UpdatedAt)
	if err == sql.ErrNoRows {
		return tm, ErrNotFound
	}
	tm.Phone = phone.String
	tm.Approved = approved != 0
	return tm, err
}

func (r Repo) InsertTeammate(ctx context.Context, q DBTX, tm domain.Teammate) error {
	_, err := q.ExecContext(ctx, `INSERT INTO teammates(`+teammateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		tm.ID, tm.Name, strings.ToLower(tm.Email), nullable(tm.Phone), tm.Role, boolInt(tm.Approved), tm.Salary, tm.PasswordHash, tm.CreatedAt, tm.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) UpdateTeammate(ctx context.Context, q DBTX, tm domain.Teammate) error {
	res, err := q.ExecContext(ctx, `UPDATE teammates SET name=?, email=?, phone=?, role=?, approved=?, salary=?, password_hash=?, updated_at=? WHERE id=?`,
		tm.Name, strings.ToLower(tm.Email), nullable(tm.Phone), tm.Role, boolInt(tm.Approved), tm.Salary, tm.PasswordHash, tm.UpdatedAt, tm.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return affectedOrNotFound(res, err)
}

func (r Repo) GetTeammate(ctx context.Context, id string) (domain.Teammate, error) {
	return r.GetTeammateTx(ctx, r.DB, id)
}

func (r Repo) GetTeammateTx(ctx context.Context, q DBTX, id string) (domain.Teammate, error) {
	return scanTeammate(q.QueryRowContext(ctx, `SELECT `+teammateColumns+` FROM teammates WHERE id=?`, id))
}

func (r Repo) GetTeammateByEmail(ctx context.Context, email string) (domain.Teammate, error) {
	return scanTeammate(r.DB.QueryRowContext(ctx, `SELECT `+teammateColumns+` FROM teammates WHERE email=?`, strings.ToLower(email)))
}

type TeammateFilters struct {
	Role     string
	Approved *bool
}

func (r Repo) ListTeammates(ctx context.Context, f TeammateFilters) ([]domain.Teammate, error) {
	return r.ListTeammatesTx(ctx, r.DB, f)
}

func (r Repo) ListTeammatesTx(ctx context.Context, q DBTX, f TeammateFilters) ([]domain.Teammate, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.Approved != nil {
		clauses = append(clauses, "approved=?")
		args = append(args, boolInt(*f.Approved))
	}
	rows, err := q.QueryContext(ctx, `SELECT `+teammateColumns+` FROM teammates`+where(clauses)+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Teammate
	for rows.Next() {
		tm, err := scanTeammate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tm)
	}
	return res, rows.Err()
}

// TeammateIDsByRole returns the ids of approved teammates holding role.
func (r Repo) TeammateIDsByRole(ctx context.Context, q DBTX, role string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM teammates WHERE role=? AND approved=1 ORDER BY id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) CountTeammates(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM teammates`).Scan(&n)
	return n, err
}
