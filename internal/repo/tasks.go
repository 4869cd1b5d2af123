package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const taskColumns = `id,title,description,project_id,client_id,assigner_id,assignee_id,status,priority,allocated_time_in_seconds,time_spent_seconds,timer_start_time,due_date,ratings_json,revision_note,completion_report_json,archived,archived_at,archived_by,completed_at,version,created_at,updated_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var description, projectID, clientID, timer, dueDate, revision, report, archivedAt, archivedBy, completedAt sql.NullString
	var ratings string
	var archived int
	err := s.Scan(&t.ID, &t.Title, &description, &projectID, &clientID, &t.AssignerID, &t.AssigneeID, &t.Status, &t.Priority,
		&t.AllocatedTimeInSeconds, &t.TimeSpentSeconds, &timer, &dueDate, &ratings, &revision, &report, &archived,
		&archivedAt, &archivedBy, &completedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.ProjectID = stringPtr(projectID)
	t.ClientID = stringPtr(clientID)
	t.Timer = domain.ParseTimerState(timer.String)
	t.DueDate = stringPtr(dueDate)
	t.RevisionNote = revision.String
	t.Archived = archived != 0
	t.ArchivedAt = stringPtr(archivedAt)
	t.ArchivedBy = stringPtr(archivedBy)
	t.CompletedAt = stringPtr(completedAt)
	if err := fromJSONText(ratings, &t.Ratings); err != nil {
		return t, err
	}
	if report.Valid && report.String != "" {
		var cr domain.CompletionReport
		if err := fromJSONText(report.String, &cr); err != nil {
			return t, err
		}
		t.Report = &cr
	}
	return t, nil
}

func taskArgs(t domain.Task) ([]any, error) {
	ratings, err := jsonText(t.Ratings)
	if err != nil {
		return nil, err
	}
	var report any
	if t.Report != nil {
		s, err := jsonText(t.Report)
		if err != nil {
			return nil, err
		}
		report = s
	}
	return []any{
		t.Title, nullable(t.Description), nullableStringPtr(t.ProjectID), nullableStringPtr(t.ClientID), t.AssignerID, t.AssigneeID,
		string(t.Status), t.Priority, t.AllocatedTimeInSeconds, t.TimeSpentSeconds, nullable(t.Timer.String()),
		nullableStringPtr(t.DueDate), ratings, nullable(t.RevisionNote), report, boolInt(t.Archived),
		nullableStringPtr(t.ArchivedAt), nullableStringPtr(t.ArchivedBy), nullableStringPtr(t.CompletedAt),
	}, nil
}

func (r Repo) InsertTask(ctx context.Context, q DBTX, t domain.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append([]any{t.ID}, args...)
	args = append(args, t.Version, t.CreatedAt, t.UpdatedAt)
	_, err = q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

// UpdateTaskCAS writes every mutable column if the stored version still equals t.Version and
// bumps the version. It returns ErrStale when another writer got there first.
func (r Repo) UpdateTaskCAS(ctx context.Context, q DBTX, t domain.Task) (domain.Task, error) {
	args, err := taskArgs(t)
	if err != nil {
		return t, err
	}
	args = append(args, t.UpdatedAt, t.ID, t.Version)
	res, err := q.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, project_id=?, client_id=?, assigner_id=?, assignee_id=?, status=?, priority=?,
allocated_time_in_seconds=?, time_spent_seconds=?, timer_start_time=?, due_date=?, ratings_json=?, revision_note=?, completion_report_json=?,
archived=?, archived_at=?, archived_by=?, completed_at=?, updated_at=?, version=version+1 WHERE id=? AND version=?`, args...)
	if err != nil {
		return t, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetTaskTx(ctx, q, t.ID); err != nil {
			return t, err
		}
		return t, ErrStale
	}
	t.Version++
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, q DBTX, id string) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, q DBTX, id string) error {
	return affectedOrNotFound(q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ProjectID  string
	AssigneeID string
	AssignerID string
	Status     string
	Archived   *bool
	Page
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.AssignerID != "" {
		clauses = append(clauses, "assigner_id=?")
		args = append(args, f.AssignerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Archived != nil {
		clauses = append(clauses, "archived=?")
		args = append(args, boolInt(*f.Archived))
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AllocatedForProject sums the allocated time of a project's tasks, skipping excludeTaskID.
func (r Repo) AllocatedForProject(ctx context.Context, q DBTX, projectID, excludeTaskID string) (int64, error) {
	var total sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT SUM(allocated_time_in_seconds) FROM tasks WHERE project_id=? AND id<>?`, projectID, excludeTaskID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
