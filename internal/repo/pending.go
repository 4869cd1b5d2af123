package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const pendingColumns = `id,type,item_id,data_json,original_data_json,requested_by,requester_name,status,created_at,resolved_at,resolved_by`

func scanPending(s scanner) (domain.PendingUpdate, error) {
	var u domain.PendingUpdate
	var data, original string
	var resolvedAt, resolvedBy sql.NullString
	err := s.Scan(&u.ID, &u.Type, &u.ItemID, &data, &original, &u.RequestedBy, &u.RequesterName, &u.Status, &u.CreatedAt, &resolvedAt, &resolvedBy)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Data = map[string]any{}
	u.OriginalData = map[string]any{}
	if err := fromJSONText(data, &u.Data); err != nil {
		return u, err
	}
	if err := fromJSONText(original, &u.OriginalData); err != nil {
		return u, err
	}
	u.ResolvedAt = stringPtr(resolvedAt)
	u.ResolvedBy = stringPtr(resolvedBy)
	return u, nil
}

// InsertPending stores a new proposal. A second live proposal for the same target is rejected by
// the partial unique index and reported as ErrDuplicate.
func (r Repo) InsertPending(ctx context.Context, q DBTX, u domain.PendingUpdate) error {
	data, err := jsonText(u.Data)
	if err != nil {
		return err
	}
	original, err := jsonText(u.OriginalData)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO pending_updates(`+pendingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, string(u.Type), u.ItemID, data, original, u.RequestedBy, u.RequesterName, string(u.Status), u.CreatedAt,
		nullableStringPtr(u.ResolvedAt), nullableStringPtr(u.ResolvedBy))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetPending(ctx context.Context, id string) (domain.PendingUpdate, error) {
	return r.GetPendingTx(ctx, r.DB, id)
}

func (r Repo) GetPendingTx(ctx context.Context, q DBTX, id string) (domain.PendingUpdate, error) {
	return scanPending(q.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_updates WHERE id=?`, id))
}

// LivePending returns the unresolved proposal for a target, if any.
func (r Repo) LivePending(ctx context.Context, q DBTX, kind domain.EntityKind, itemID string) (domain.PendingUpdate, error) {
	return scanPending(q.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_updates WHERE type=? AND item_id=? AND status='pending'`, string(kind), itemID))
}

// ResolvePending moves a pending record to a terminal status. It reports false when the record
// was already resolved, leaving it untouched.
func (r Repo) ResolvePending(ctx context.Context, q DBTX, id string, status domain.PendingStatus, by, at string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE pending_updates SET status=?, resolved_by=?, resolved_at=? WHERE id=? AND status='pending'`,
		string(status), by, at, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

type PendingFilters struct {
	Status      string
	Type        string
	RequestedBy string
	Page
}

func (r Repo) ListPending(ctx context.Context, f PendingFilters) ([]domain.PendingUpdate, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.RequestedBy != "" {
		clauses = append(clauses, "requested_by=?")
		args = append(args, f.RequestedBy)
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pendingColumns+` FROM pending_updates`+where(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingUpdate
	for rows.Next() {
		u, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
