package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agencyops/internal/diff"
	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

// EditMode selects which task edit policy applies.
type EditMode int

const (
	// EditStandalone is the task's own edit entry point.
	EditStandalone EditMode = iota
	// EditEmbedded is a task edit made from inside a project view.
	EditEmbedded
)

func (m EditMode) decide(a auth.Actor, t domain.Task) auth.Decision {
	if m == EditEmbedded {
		return auth.TaskEditPolicyEmbedded(a, t)
	}
	return auth.TaskEditPolicyStandalone(a, t)
}

// TaskOutcome reports whether an edit was applied or queued for approval.
type TaskOutcome struct {
	Applied bool                  `json:"applied"`
	Task    domain.Task           `json:"task"`
	Pending *domain.PendingUpdate `json:"pending,omitempty"`
}

type CreateTaskOptions struct {
	Title                  string `validate:"required,max=200"`
	Description            string
	ProjectID              string
	ClientID               string
	AssigneeID             string `validate:"required"`
	Priority               string `validate:"omitempty,oneof=Low Medium High Urgent"`
	AllocatedTimeInSeconds int64  `validate:"gte=0"`
	DueDate                string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func taskLink(id string) string { return "tasks/" + id }

func (e Engine) CreateTask(ctx context.Context, actor auth.Actor, opts CreateTaskOptions) (domain.Task, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Task{}, err
	}
	if err := e.check(opts); err != nil {
		return domain.Task{}, err
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	var out domain.Task
	err := e.commit(ctx, "create task", func(tx *sql.Tx) ([]events.Transition, error) {
		var project *domain.Project
		if opts.ProjectID != "" {
			p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
			if errors.Is(err, repo.ErrNotFound) {
				return nil, invalid("project %s does not exist", opts.ProjectID)
			}
			if err != nil {
				return nil, err
			}
			project = &p
		}
		if !auth.CanAssignTask(actor, e.Config.ManagementRoles(), project) {
			return nil, auth.ForbiddenError{Permission: "tasks.create"}
		}
		if _, err := e.Repo.GetTeammateTx(ctx, tx, opts.AssigneeID); errors.Is(err, repo.ErrNotFound) {
			return nil, invalid("assignee %s does not exist", opts.AssigneeID)
		} else if err != nil {
			return nil, err
		}
		now := e.stamp()
		t := domain.Task{
			ID:                     e.newID(),
			Title:                  opts.Title,
			Description:            opts.Description,
			ProjectID:              optionalString(opts.ProjectID),
			ClientID:               optionalString(opts.ClientID),
			AssignerID:             actor.ID,
			AssigneeID:             opts.AssigneeID,
			Status:                 domain.TaskToDo,
			Priority:               opts.Priority,
			AllocatedTimeInSeconds: opts.AllocatedTimeInSeconds,
			Timer:                  domain.Stopped(),
			DueDate:                optionalString(opts.DueDate),
			Version:                1,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if project != nil && t.ClientID == nil {
			t.ClientID = project.ClientID
		}
		if err := e.checkBudget(ctx, tx, t); err != nil {
			return nil, err
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, err
		}
		out = t
		return []events.Transition{{
			Kind:       "task.created",
			ActorID:    actor.ID,
			TargetKind: domain.KindTask,
			TargetID:   t.ID,
			Recipients: []string{t.AssigneeID},
			Message:    fmt.Sprintf("You have been assigned a new task: %s", t.Title),
			Link:       taskLink(t.ID),
			Record:     t,
		}}, nil
	})
	return out, err
}

// checkBudget verifies that the project's tasks together stay within the project's allocated
// time. Projects without an allocation are not limited.
func (e Engine) checkBudget(ctx context.Context, q repo.DBTX, t domain.Task) error {
	if t.ProjectID == nil || *t.ProjectID == "" {
		return nil
	}
	p, err := e.Repo.GetProjectTx(ctx, q, *t.ProjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return invalid("project %s does not exist", *t.ProjectID)
	}
	if err != nil {
		return err
	}
	if p.AllocatedTimeInSeconds <= 0 {
		return nil
	}
	others, err := e.Repo.AllocatedForProject(ctx, q, p.ID, t.ID)
	if err != nil {
		return err
	}
	if others+t.AllocatedTimeInSeconds > p.AllocatedTimeInSeconds {
		return invalid("allocated time exceeds project budget: %ds remaining, %ds requested",
			max(p.AllocatedTimeInSeconds-others, 0), t.AllocatedTimeInSeconds)
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

type TaskFilters = repo.TaskFilters

func (e Engine) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// EditTask applies or proposes the difference between the stored task and edited. A non-zero
// edited.Version must match the stored version.
func (e Engine) EditTask(ctx context.Context, actor auth.Actor, edited domain.Task, mode EditMode) (TaskOutcome, error) {
	if err := e.requireConfig(); err != nil {
		return TaskOutcome{}, err
	}
	var out TaskOutcome
	err := e.commit(ctx, "edit task", func(tx *sql.Tx) ([]events.Transition, error) {
		t, err := e.Repo.GetTaskTx(ctx, tx, edited.ID)
		if err != nil {
			return nil, err
		}
		if edited.Version != 0 && edited.Version != t.Version {
			return nil, fmt.Errorf("task %s changed since it was read: %w", t.ID, ErrConflict)
		}
		ch, err := diff.TaskSpec.Compute(t, edited)
		if err != nil {
			return nil, err
		}
		switch mode.decide(actor, t) {
		case auth.Direct:
			updated, tr, err := e.applyTaskChange(ctx, tx, actor, t, ch.Data)
			if err != nil {
				return nil, err
			}
			out = TaskOutcome{Applied: true, Task: updated}
			return []events.Transition{tr}, nil
		case auth.Propose:
			candidate := t
			if err := diff.TaskSpec.Merge(&candidate, ch.Data); err != nil {
				return nil, err
			}
			if err := e.checkTaskChange(ctx, tx, candidate, ch.Data); err != nil {
				return nil, err
			}
			u, tr, err := e.propose(ctx, tx, actor, domain.KindTask, t.ID, ch)
			if err != nil {
				return nil, err
			}
			out = TaskOutcome{Task: t, Pending: &u}
			return []events.Transition{tr}, nil
		}
		return nil, auth.ForbiddenError{Permission: "tasks.edit"}
	})
	return out, err
}

// PatchTask overlays patch on the stored task and edits it. Keys that are not editable are ignored.
func (e Engine) PatchTask(ctx context.Context, actor auth.Actor, id string, patch map[string]any, mode EditMode) (TaskOutcome, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return TaskOutcome{}, err
	}
	edited := t
	if err := diff.TaskSpec.Merge(&edited, patch); err != nil {
		return TaskOutcome{}, ValidationError{Msg: "invalid patch", Err: err}
	}
	return e.EditTask(ctx, actor, edited, mode)
}

// checkTaskChange re-checks the project budget when data moves the task or its allocation.
func (e Engine) checkTaskChange(ctx context.Context, q repo.DBTX, candidate domain.Task, data map[string]any) error {
	if _, touched := data["allocated_time_in_seconds"]; !touched && data["project_id"] == nil {
		return nil
	}
	return e.checkBudget(ctx, q, candidate)
}

// applyTaskChange validates and merges data into t and writes it with a version check. Direct
// edits and approvals both go through here.
func (e Engine) applyTaskChange(ctx context.Context, tx *sql.Tx, actor auth.Actor, t domain.Task, data map[string]any) (domain.Task, events.Transition, error) {
	updated := t
	if err := diff.TaskSpec.Merge(&updated, data); err != nil {
		return t, events.Transition{}, err
	}
	if err := e.checkTaskChange(ctx, tx, updated, data); err != nil {
		return t, events.Transition{}, err
	}
	updated.UpdatedAt = e.stamp()
	updated, err := e.Repo.UpdateTaskCAS(ctx, tx, updated)
	if err != nil {
		return t, events.Transition{}, err
	}
	tr := events.Transition{
		Kind:       "task.updated",
		ActorID:    actor.ID,
		TargetKind: domain.KindTask,
		TargetID:   updated.ID,
		Record:     updated,
	}
	if updated.AssigneeID != t.AssigneeID {
		tr.Recipients = []string{updated.AssigneeID}
		tr.Message = fmt.Sprintf("You have been assigned a task: %s", updated.Title)
		tr.Link = taskLink(updated.ID)
	}
	return updated, tr, nil
}

// DeleteTask deletes the task, or proposes the deletion when the actor may not delete a task
// that has already left ToDo.
func (e Engine) DeleteTask(ctx context.Context, actor auth.Actor, id string) (TaskOutcome, error) {
	if err := e.requireConfig(); err != nil {
		return TaskOutcome{}, err
	}
	var out TaskOutcome
	err := e.commit(ctx, "delete task", func(tx *sql.Tx) ([]events.Transition, error) {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out.Task = t
		switch auth.TaskDelete(actor, t) {
		case auth.Direct:
			tr, err := e.deleteTask(ctx, tx, actor, t)
			if err != nil {
				return nil, err
			}
			out.Applied = true
			return []events.Transition{tr}, nil
		case auth.Propose:
			u, tr, err := e.propose(ctx, tx, actor, domain.KindTask, t.ID, diff.Change{
				Data:     map[string]any{domain.ActionKey: domain.ActionDelete},
				Original: map[string]any{},
			})
			if err != nil {
				return nil, err
			}
			out.Pending = &u
			return []events.Transition{tr}, nil
		}
		return nil, auth.ForbiddenError{Permission: "tasks.delete"}
	})
	return out, err
}

func (e Engine) deleteTask(ctx context.Context, tx *sql.Tx, actor auth.Actor, t domain.Task) (events.Transition, error) {
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return events.Transition{}, err
	}
	tr := events.Transition{
		Kind:       "task.deleted",
		ActorID:    actor.ID,
		TargetKind: domain.KindTask,
		TargetID:   t.ID,
	}
	if t.AssigneeID != "" {
		tr.Recipients = []string{t.AssigneeID}
		tr.Message = fmt.Sprintf("Task %s has been deleted.", t.Title)
	}
	return tr, nil
}
