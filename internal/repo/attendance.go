package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const attendanceColumns = `id,teammate_id,day,check_in_at,check_out_at,worked_seconds,updated_at`

func scanAttendance(s scanner) (domain.Attendance, error) {
	var a domain.Attendance
	var out sql.NullString
	err := s.Scan(&a.ID, &a.TeammateID, &a.Day, &a.CheckInAt, &out, &a.WorkedSeconds, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.CheckOutAt = stringPtr(out)
	return a, err
}

func (r Repo) InsertAttendance(ctx context.Context, q DBTX, a domain.Attendance) error {
	_, err := q.ExecContext(ctx, `INSERT INTO attendance(`+attendanceColumns+`) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.TeammateID, a.Day, a.CheckInAt, nullableStringPtr(a.CheckOutAt), a.WorkedSeconds, a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// CloseAttendance sets the check-out only while the record is still open.
func (r Repo) CloseAttendance(ctx context.Context, q DBTX, a domain.Attendance) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE attendance SET check_out_at=?, worked_seconds=?, updated_at=? WHERE id=? AND check_out_at IS NULL`,
		nullableStringPtr(a.CheckOutAt), a.WorkedSeconds, a.UpdatedAt, a.ID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) GetAttendanceForDay(ctx context.Context, q DBTX, teammateID, day string) (domain.Attendance, error) {
	return scanAttendance(q.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE teammate_id=? AND day=?`, teammateID, day))
}

func (r Repo) ListAttendance(ctx context.Context, teammateID, fromDay, toDay string) ([]domain.Attendance, error) {
	clauses := []string{"teammate_id=?"}
	args := []any{teammateID}
	if fromDay != "" {
		clauses = append(clauses, "day>=?")
		args = append(args, fromDay)
	}
	if toDay != "" {
		clauses = append(clauses, "day<=?")
		args = append(args, toDay)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+attendanceColumns+` FROM attendance`+where(clauses)+` ORDER BY day DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
