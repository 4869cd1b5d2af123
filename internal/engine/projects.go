package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"agencyops/internal/diff"
	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

// ErrAssignmentExpired is returned when a teammate accepts a project after the acceptance window.
var ErrAssignmentExpired = errors.New("project assignment expired")

type ProjectOutcome struct {
	Applied bool                  `json:"applied"`
	Project domain.Project        `json:"project"`
	Pending *domain.PendingUpdate `json:"pending,omitempty"`
}

type CreateProjectOptions struct {
	Name                   string `validate:"required,max=200"`
	Description            string
	ClientID               string
	TeamMemberIDs          []string `validate:"dive,required"`
	AllocatedTimeInSeconds int64    `validate:"gte=0"`
	Divisions              []string
	Deadline               string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func projectLink(id string) string { return "projects/" + id }

func (e Engine) CreateProject(ctx context.Context, actor auth.Actor, opts CreateProjectOptions) (domain.Project, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Project{}, err
	}
	if !auth.CanCreateProject(actor, e.Config.ManagementRoles()) {
		return domain.Project{}, auth.ForbiddenError{Permission: "projects.create"}
	}
	if err := e.check(opts); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	err := e.commit(ctx, "create project", func(tx *sql.Tx) ([]events.Transition, error) {
		if opts.ClientID != "" {
			if _, err := e.Repo.GetClientTx(ctx, tx, opts.ClientID); errors.Is(err, repo.ErrNotFound) {
				return nil, invalid("client %s does not exist", opts.ClientID)
			} else if err != nil {
				return nil, err
			}
		}
		members := uniq(opts.TeamMemberIDs)
		if err := e.requireTeammates(ctx, tx, members); err != nil {
			return nil, err
		}
		now := e.stamp()
		p := domain.Project{
			ID:                     e.newID(),
			Name:                   opts.Name,
			Description:            opts.Description,
			ClientID:               optionalString(opts.ClientID),
			AssignerID:             actor.ID,
			Status:                 domain.ProjectActive,
			TeamMemberIDs:          members,
			Acceptance:             map[string]domain.ProjectAcceptance{},
			AllocatedTimeInSeconds: opts.AllocatedTimeInSeconds,
			Divisions:              opts.Divisions,
			Deadline:               optionalString(opts.Deadline),
			Version:                1,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if p.Divisions == nil {
			p.Divisions = []string{}
		}
		for _, m := range members {
			p.Acceptance[m] = domain.ProjectAcceptance{Status: domain.AcceptancePending, AssignedAt: now}
		}
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return nil, err
		}
		out = p
		return []events.Transition{{
			Kind:       "project.created",
			ActorID:    actor.ID,
			TargetKind: domain.KindProject,
			TargetID:   p.ID,
			Recipients: members,
			Message:    e.assignmentMessage(p),
			Link:       projectLink(p.ID),
			Record:     p,
		}}, nil
	})
	return out, err
}

func (e Engine) assignmentMessage(p domain.Project) string {
	return fmt.Sprintf("You have been added to project %s. Please accept within %d hours.",
		p.Name, int(e.Config.AcceptanceWindow().Hours()))
}

func (e Engine) requireTeammates(ctx context.Context, q repo.DBTX, ids []string) error {
	for _, id := range ids {
		if _, err := e.Repo.GetTeammateTx(ctx, q, id); errors.Is(err, repo.ErrNotFound) {
			return invalid("teammate %s does not exist", id)
		} else if err != nil {
			return err
		}
	}
	return nil
}

// GetProject returns the project after expiring any overdue assignments.
func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil || len(e.overdue(p)) == 0 {
		return p, err
	}
	p, _, err = e.expireOverdue(ctx, id)
	return p, err
}

type ProjectFilters = repo.ProjectFilters

// ListProjects lists projects, expiring overdue assignments of the returned projects first.
func (e Engine) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	ps, err := e.Repo.ListProjects(ctx, f)
	if err != nil {
		return nil, err
	}
	for i, p := range ps {
		if len(e.overdue(p)) == 0 {
			continue
		}
		if ps[i], _, err = e.expireOverdue(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// EditProject applies or proposes the difference between the stored project and edited.
func (e Engine) EditProject(ctx context.Context, actor auth.Actor, edited domain.Project) (ProjectOutcome, error) {
	if err := e.requireConfig(); err != nil {
		return ProjectOutcome{}, err
	}
	var out ProjectOutcome
	err := e.commit(ctx, "edit project", func(tx *sql.Tx) ([]events.Transition, error) {
		p, err := e.Repo.GetProjectTx(ctx, tx, edited.ID)
		if err != nil {
			return nil, err
		}
		if edited.Version != 0 && edited.Version != p.Version {
			return nil, fmt.Errorf("project %s changed since it was read: %w", p.ID, ErrConflict)
		}
		ch, err := diff.ProjectSpec.Compute(p, edited)
		if err != nil {
			return nil, err
		}
		switch auth.ProjectEdit(actor, p) {
		case auth.Direct:
			updated, tr, err := e.applyProjectChange(ctx, tx, actor, p, ch.Data)
			if err != nil {
				return nil, err
			}
			out = ProjectOutcome{Applied: true, Project: updated}
			return []events.Transition{tr}, nil
		case auth.Propose:
			candidate := p
			if err := diff.ProjectSpec.Merge(&candidate, ch.Data); err != nil {
				return nil, err
			}
			if err := e.checkProject(ctx, tx, p, candidate); err != nil {
				return nil, err
			}
			u, tr, err := e.propose(ctx, tx, actor, domain.KindProject, p.ID, ch)
			if err != nil {
				return nil, err
			}
			out = ProjectOutcome{Project: p, Pending: &u}
			return []events.Transition{tr}, nil
		}
		return nil, auth.ForbiddenError{Permission: "projects.edit"}
	})
	return out, err
}

// PatchProject overlays patch on the stored project and edits it.
func (e Engine) PatchProject(ctx context.Context, actor auth.Actor, id string, patch map[string]any) (ProjectOutcome, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return ProjectOutcome{}, err
	}
	edited := p
	if err := diff.ProjectSpec.Merge(&edited, patch); err != nil {
		return ProjectOutcome{}, ValidationError{Msg: "invalid patch", Err: err}
	}
	return e.EditProject(ctx, actor, edited)
}

// checkProject validates a project as it would look after an edit. Only newly added members
// must exist; members whose teammate record is gone stay as they are.
func (e Engine) checkProject(ctx context.Context, q repo.DBTX, before, p domain.Project) error {
	if p.Name == "" {
		return invalid("project name is required")
	}
	if p.Progress < 0 || p.Progress > 100 {
		return invalid("progress must be between 0 and 100")
	}
	switch p.Status {
	case domain.ProjectActive, domain.ProjectOnHold, domain.ProjectCompleted:
	default:
		return invalid("unknown project status %q", p.Status)
	}
	if p.AllocatedTimeInSeconds < 0 {
		return invalid("allocated time must not be negative")
	}
	if p.AllocatedTimeInSeconds > 0 {
		used, err := e.Repo.AllocatedForProject(ctx, q, p.ID, "")
		if err != nil {
			return err
		}
		if used > p.AllocatedTimeInSeconds {
			return invalid("project allocation %ds is below the %ds already allocated to its tasks", p.AllocatedTimeInSeconds, used)
		}
	}
	added, _ := memberDelta(before.TeamMemberIDs, p.TeamMemberIDs)
	return e.requireTeammates(ctx, q, added)
}

// applyProjectChange validates and merges data into p, for direct edits and approvals alike.
// Added members get a fresh Pending acceptance entry, removed members lose theirs and every
// other entry is kept as stored.
func (e Engine) applyProjectChange(ctx context.Context, tx *sql.Tx, actor auth.Actor, p domain.Project, data map[string]any) (domain.Project, events.Transition, error) {
	before := append([]string(nil), p.TeamMemberIDs...)
	updated := p
	updated.Acceptance = make(map[string]domain.ProjectAcceptance, len(p.Acceptance))
	for k, v := range p.Acceptance {
		updated.Acceptance[k] = v
	}
	if err := diff.ProjectSpec.Merge(&updated, data); err != nil {
		return p, events.Transition{}, err
	}
	updated.TeamMemberIDs = uniq(updated.TeamMemberIDs)
	if err := e.checkProject(ctx, tx, p, updated); err != nil {
		return p, events.Transition{}, err
	}
	added, removed := memberDelta(before, updated.TeamMemberIDs)
	now := e.stamp()
	for _, m := range added {
		updated.Acceptance[m] = domain.ProjectAcceptance{Status: domain.AcceptancePending, AssignedAt: now}
	}
	for _, m := range removed {
		delete(updated.Acceptance, m)
	}
	updated.UpdatedAt = now
	updated, err := e.Repo.UpdateProjectCAS(ctx, tx, updated)
	if err != nil {
		return p, events.Transition{}, err
	}
	tr := events.Transition{
		Kind:       "project.updated",
		ActorID:    actor.ID,
		TargetKind: domain.KindProject,
		TargetID:   updated.ID,
		Record:     updated,
	}
	if len(added) > 0 {
		tr.Recipients = added
		tr.Message = e.assignmentMessage(updated)
		tr.Link = projectLink(updated.ID)
	}
	return updated, tr, nil
}

// memberDelta returns the ids present only in after and the ids present only in before.
func memberDelta(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !contains(before, id) {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !contains(after, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func uniq(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// overdue lists members whose Pending assignment is at least one acceptance window old.
// Entries with an unreadable assignment time never expire.
func (e Engine) overdue(p domain.Project) []string {
	window := e.Config.AcceptanceWindow()
	now := e.now()
	var ids []string
	for id, a := range p.Acceptance {
		if a.Status != domain.AcceptancePending {
			continue
		}
		at, err := time.Parse(time.RFC3339, a.AssignedAt)
		if err != nil {
			continue
		}
		if now.Sub(at) >= window {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CheckAcceptanceExpiry expires overdue assignments of one project and notifies the CEO once per
// expired entry. It returns the member ids that expired.
func (e Engine) CheckAcceptanceExpiry(ctx context.Context, projectID string) ([]string, error) {
	_, expired, err := e.expireOverdue(ctx, projectID)
	return expired, err
}

func (e Engine) expireOverdue(ctx context.Context, projectID string) (domain.Project, []string, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Project{}, nil, err
	}
	var out domain.Project
	var expired []string
	err := e.commit(ctx, "expire assignments", func(tx *sql.Tx) ([]events.Transition, error) {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return nil, err
		}
		out = p
		expired = e.overdue(p)
		if len(expired) == 0 {
			return nil, nil
		}
		updated, trs, err := e.expire(ctx, tx, p, expired)
		if err != nil {
			return nil, err
		}
		out = updated
		return trs, nil
	})
	if err != nil {
		return domain.Project{}, nil, err
	}
	return out, expired, nil
}

// expire marks the given members Expired and writes the project.
func (e Engine) expire(ctx context.Context, tx *sql.Tx, p domain.Project, members []string) (domain.Project, []events.Transition, error) {
	ceos, err := e.ceoIDs(ctx, tx)
	if err != nil {
		return p, nil, err
	}
	updated := p
	updated.Acceptance = make(map[string]domain.ProjectAcceptance, len(p.Acceptance))
	for k, v := range p.Acceptance {
		updated.Acceptance[k] = v
	}
	now := e.stamp()
	for _, m := range members {
		a := updated.Acceptance[m]
		a.Status = domain.AcceptanceExpired
		a.RespondedAt = now
		updated.Acceptance[m] = a
	}
	updated.UpdatedAt = now
	updated, err = e.Repo.UpdateProjectCAS(ctx, tx, updated)
	if err != nil {
		return p, nil, err
	}
	trs := make([]events.Transition, 0, len(members))
	for _, m := range members {
		name := m
		if tm, err := e.Repo.GetTeammateTx(ctx, tx, m); err == nil {
			name = tm.Name
		}
		trs = append(trs, events.Transition{
			Kind:       "project.acceptance_expired",
			ActorID:    "system",
			TargetKind: domain.KindProject,
			TargetID:   updated.ID,
			Recipients: ceos,
			Message: fmt.Sprintf("%s did not accept project %s within %d hours.",
				name, updated.Name, int(e.Config.AcceptanceWindow().Hours())),
			Link:   projectLink(updated.ID),
			Record: updated,
		})
	}
	e.logger().WithField("project_id", updated.ID).WithField("members", members).Info("project assignments expired")
	return updated, trs, nil
}

// AcceptAssignment records the actor's acceptance of a project assignment. Accepting twice is a
// no-op. Accepting after the window expires the entry and returns ErrAssignmentExpired.
func (e Engine) AcceptAssignment(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	lapsed := false
	err := e.commit(ctx, "accept assignment", func(tx *sql.Tx) ([]events.Transition, error) {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return nil, err
		}
		out = p
		entry, ok := p.Acceptance[actor.ID]
		if !ok || !p.HasMember(actor.ID) {
			return nil, auth.ForbiddenError{Permission: "projects.accept"}
		}
		switch entry.Status {
		case domain.AcceptanceAccepted:
			return nil, nil
		case domain.AcceptanceExpired:
			return nil, ValidationError{Err: ErrAssignmentExpired}
		}
		if contains(e.overdue(p), actor.ID) {
			updated, trs, err := e.expire(ctx, tx, p, []string{actor.ID})
			if err != nil {
				return nil, err
			}
			out = updated
			lapsed = true
			return trs, nil
		}
		updated := p
		updated.Acceptance = make(map[string]domain.ProjectAcceptance, len(p.Acceptance))
		for k, v := range p.Acceptance {
			updated.Acceptance[k] = v
		}
		now := e.stamp()
		updated.Acceptance[actor.ID] = domain.ProjectAcceptance{
			Status:      domain.AcceptanceAccepted,
			AssignedAt:  entry.AssignedAt,
			RespondedAt: now,
		}
		updated.UpdatedAt = now
		updated, err = e.Repo.UpdateProjectCAS(ctx, tx, updated)
		if err != nil {
			return nil, err
		}
		out = updated
		return []events.Transition{{
			Kind:       "project.accepted",
			ActorID:    actor.ID,
			TargetKind: domain.KindProject,
			TargetID:   updated.ID,
			Recipients: []string{updated.AssignerID},
			Message:    fmt.Sprintf("%s accepted project %s.", displayName(actor.Name, actor.ID), updated.Name),
			Link:       projectLink(updated.ID),
			Record:     updated,
		}}, nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	if lapsed {
		return out, ValidationError{Err: ErrAssignmentExpired}
	}
	return out, nil
}

// SweepAcceptance expires overdue assignments across all projects and returns how many entries
// expired.
func (e Engine) SweepAcceptance(ctx context.Context) (int, error) {
	ids, err := e.Repo.ProjectsWithPendingAcceptance(ctx)
	if err != nil {
		return 0, PersistenceError{Op: "list pending assignments", Err: err}
	}
	n := 0
	for _, id := range ids {
		expired, err := e.CheckAcceptanceExpiry(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n += len(expired)
	}
	return n, nil
}
