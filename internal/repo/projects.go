package repo

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
)

const projectColumns = `id,name,description,client_id,assigner_id,status,progress,team_member_ids_json,acceptance_json,allocated_time_in_seconds,divisions_json,deadline,ratings_json,version,created_at,updated_at`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	var description, clientID, deadline sql.NullString
	var members, acceptance, divisions, ratings string
	err := s.Scan(&p.ID, &p.Name, &description, &clientID, &p.AssignerID, &p.Status, &p.Progress, &members, &acceptance,
		&p.AllocatedTimeInSeconds, &divisions, &deadline, &ratings, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Description = description.String
	p.ClientID = stringPtr(clientID)
	p.Deadline = stringPtr(deadline)
	p.TeamMemberIDs = []string{}
	p.Divisions = []string{}
	p.Acceptance = map[string]domain.ProjectAcceptance{}
	for _, f := range []struct {
		src string
		dst any
	}{{members, &p.TeamMemberIDs}, {acceptance, &p.Acceptance}, {divisions, &p.Divisions}, {ratings, &p.Ratings}} {
		if err := fromJSONText(f.src, f.dst); err != nil {
			return p, err
		}
	}
	return p, nil
}

func projectArgs(p domain.Project) ([]any, error) {
	if p.TeamMemberIDs == nil {
		p.TeamMemberIDs = []string{}
	}
	if p.Divisions == nil {
		p.Divisions = []string{}
	}
	if p.Acceptance == nil {
		p.Acceptance = map[string]domain.ProjectAcceptance{}
	}
	members, err := jsonText(p.TeamMemberIDs)
	if err != nil {
		return nil, err
	}
	acceptance, err := jsonText(p.Acceptance)
	if err != nil {
		return nil, err
	}
	divisions, err := jsonText(p.Divisions)
	if err != nil {
		return nil, err
	}
	ratings, err := jsonText(p.Ratings)
	if err != nil {
		return nil, err
	}
	return []any{
		p.Name, nullable(p.Description), nullableStringPtr(p.ClientID), p.AssignerID, p.Status, p.Progress, members, acceptance,
		p.AllocatedTimeInSeconds, divisions, nullableStringPtr(p.Deadline), ratings,
	}, nil
}

func (r Repo) InsertProject(ctx context.Context, q DBTX, p domain.Project) error {
	args, err := projectArgs(p)
	if err != nil {
		return err
	}
	args = append([]any{p.ID}, args...)
	args = append(args, p.Version, p.CreatedAt, p.UpdatedAt)
	_, err = q.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

// UpdateProjectCAS writes the project if its stored version still equals p.Version.
func (r Repo) UpdateProjectCAS(ctx context.Context, q DBTX, p domain.Project) (domain.Project, error) {
	args, err := projectArgs(p)
	if err != nil {
		return p, err
	}
	args = append(args, p.UpdatedAt, p.ID, p.Version)
	res, err := q.ExecContext(ctx, `UPDATE projects SET name=?, description=?, client_id=?, assigner_id=?, status=?, progress=?, team_member_ids_json=?,
acceptance_json=?, allocated_time_in_seconds=?, divisions_json=?, deadline=?, ratings_json=?, updated_at=?, version=version+1 WHERE id=? AND version=?`, args...)
	if err != nil {
		return p, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetProjectTx(ctx, q, p.ID); err != nil {
			return p, err
		}
		return p, ErrStale
	}
	p.Version++
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, q DBTX, id string) (domain.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	MemberID string
	Status   string
	Page
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.MemberID != "" {
		clauses = append(clauses, "(assigner_id=? OR EXISTS (SELECT 1 FROM json_each(team_member_ids_json) WHERE json_each.value=?))")
		args = append(args, f.MemberID, f.MemberID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`+where(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectsWithPendingAcceptance returns ids of projects holding at least one Pending entry.
func (r Repo) ProjectsWithPendingAcceptance(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM projects p WHERE EXISTS (
SELECT 1 FROM json_each(p.acceptance_json) WHERE json_extract(json_each.value,'$.status')='Pending') ORDER BY id`)
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
