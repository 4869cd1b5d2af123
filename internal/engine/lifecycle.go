package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
)

// taskStep computes the next state of a task. Returning changed=false leaves the task untouched
// and emits nothing.
type taskStep func(tx *sql.Tx, t domain.Task) (next domain.Task, tr events.Transition, changed bool, err error)

// stepTask runs one lifecycle action as a single read-modify-write guarded by the task version.
func (e Engine) stepTask(ctx context.Context, op string, actor auth.Actor, id string, step taskStep) (domain.Task, error) {
	var out domain.Task
	err := e.commit(ctx, op, func(tx *sql.Tx) ([]events.Transition, error) {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		next, tr, changed, err := step(tx, t)
		if err != nil {
			return nil, err
		}
		if !changed {
			out = t
			return nil, nil
		}
		next.UpdatedAt = e.stamp()
		saved, err := e.Repo.UpdateTaskCAS(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		out = saved
		tr.ActorID = actor.ID
		tr.TargetKind = domain.KindTask
		tr.TargetID = saved.ID
		tr.Record = saved
		return []events.Transition{tr}, nil
	})
	return out, err
}

const defaultRevisionMessage = "Please revise and resubmit."

func invalidTransition(t domain.Task, action string) error {
	return fmt.Errorf("cannot %s task in status %s: %w", action, t.Status, ErrInvalidTransition)
}

// fold moves the running timer's elapsed time into the accumulated total and stops the timer.
func fold(t domain.Task, now func() time.Time) domain.Task {
	if t.Timer.Running() {
		t.TimeSpentSeconds += t.Timer.Elapsed(now())
	}
	t.Timer = domain.Stopped()
	return t
}

// StartTask starts work on a task in ToDo or RevisionRequired. Starting a paused task resumes it;
// starting a running task does nothing.
func (e Engine) StartTask(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "start task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanWorkTask(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.work"}
		}
		switch t.Status {
		case domain.TaskToDo, domain.TaskRevisionRequired:
			t.Status = domain.TaskInProgress
			t.Timer = domain.RunningSince(e.now())
			return t, events.Transition{Kind: "task.started"}, true, nil
		case domain.TaskInProgress:
			if t.Timer.Running() {
				return t, events.Transition{}, false, nil
			}
			t.Timer = domain.RunningSince(e.now())
			return t, events.Transition{Kind: "task.resumed"}, true, nil
		}
		return t, events.Transition{}, false, invalidTransition(t, "start")
	})
}

// ResumeTask restarts the timer of a paused task that is in progress.
func (e Engine) ResumeTask(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "resume task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanWorkTask(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.work"}
		}
		if t.Status != domain.TaskInProgress {
			return t, events.Transition{}, false, invalidTransition(t, "resume")
		}
		if t.Timer.Running() {
			return t, events.Transition{}, false, nil
		}
		t.Timer = domain.RunningSince(e.now())
		return t, events.Transition{Kind: "task.resumed"}, true, nil
	})
}

// PauseTask folds the running timer into time spent. Pausing a task whose timer is not running
// does nothing.
func (e Engine) PauseTask(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "pause task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanWorkTask(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.work"}
		}
		if !t.Timer.Running() {
			return t, events.Transition{}, false, nil
		}
		return fold(t, e.now), events.Transition{Kind: "task.paused"}, true, nil
	})
}

type SubmitOptions struct {
	Accomplishments string `validate:"required"`
	WorkExperience  bool
	Suggestions     string
	DriveLink       string `validate:"omitempty,url"`
}

// SubmitTask files a completion report and moves the task to review, folding any running timer.
func (e Engine) SubmitTask(ctx context.Context, actor auth.Actor, id string, opts SubmitOptions) (domain.Task, error) {
	if err := e.check(opts); err != nil {
		return domain.Task{}, err
	}
	return e.stepTask(ctx, "submit task", actor, id, func(tx *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanWorkTask(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.work"}
		}
		if t.Status != domain.TaskInProgress && t.Status != domain.TaskRevisionRequired {
			return t, events.Transition{}, false, invalidTransition(t, "submit")
		}
		t = fold(t, e.now)
		t.Status = domain.TaskUnderReview
		t.Report = &domain.CompletionReport{
			Accomplishments: opts.Accomplishments,
			WorkExperience:  opts.WorkExperience,
			Suggestions:     opts.Suggestions,
			DriveLink:       opts.DriveLink,
			SubmittedAt:     e.stamp(),
		}
		ceos, err := e.ceoIDs(ctx, tx)
		if err != nil {
			return t, events.Transition{}, false, err
		}
		return t, events.Transition{
			Kind:       "task.submitted",
			Recipients: append([]string{t.AssignerID}, ceos...),
			Message:    fmt.Sprintf("%s submitted %q for review.", displayName(actor.Name, actor.ID), t.Title),
			Link:       taskLink(t.ID),
		}, true, nil
	})
}

// ApproveTask completes a task under review. Approving a completed task does nothing.
func (e Engine) ApproveTask(ctx context.Context, reviewer auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "approve task", reviewer, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanReviewTask(reviewer, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.review"}
		}
		switch t.Status {
		case domain.TaskCompleted:
			return t, events.Transition{}, false, nil
		case domain.TaskUnderReview:
		default:
			return t, events.Transition{}, false, invalidTransition(t, "approve")
		}
		at := e.stamp()
		t.Status = domain.TaskCompleted
		t.CompletedAt = &at
		return t, events.Transition{
			Kind:       "task.completed",
			Recipients: []string{t.AssigneeID},
			Message:    fmt.Sprintf("Your task %q has been approved.", t.Title),
			Link:       taskLink(t.ID),
		}, true, nil
	})
}

// RequestRevision sends a task under review back to its assignee. An empty message is replaced
// by the configured default.
func (e Engine) RequestRevision(ctx context.Context, reviewer auth.Actor, id, message string) (domain.Task, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Task{}, err
	}
	if message == "" {
		message = e.Config.Workflow.RevisionMessage
	}
	if message == "" {
		message = defaultRevisionMessage
	}
	return e.stepTask(ctx, "request revision", reviewer, id, func(tx *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanReviewTask(reviewer, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.review"}
		}
		if t.Status != domain.TaskUnderReview {
			return t, events.Transition{}, false, invalidTransition(t, "request revision for")
		}
		t.Status = domain.TaskRevisionRequired
		t.RevisionNote = message
		ceos, err := e.ceoIDs(ctx, tx)
		if err != nil {
			return t, events.Transition{}, false, err
		}
		recipients := append([]string{t.AssigneeID}, ceos...)
		recipients = append(recipients, t.AssignerID)
		return t, events.Transition{
			Kind:       "task.revision_requested",
			Recipients: recipients,
			Message:    fmt.Sprintf("Revision requested for %q: %s", t.Title, message),
			Link:       taskLink(t.ID),
		}, true, nil
	})
}

func canArchive(a auth.Actor, t domain.Task) bool {
	return auth.CanReviewTask(a, t) || a.ID == t.AssigneeID
}

// ArchiveTask hides a completed task from active lists. The status is not changed.
func (e Engine) ArchiveTask(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "archive task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !canArchive(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.archive"}
		}
		if !t.Archivable() {
			return t, events.Transition{}, false, invalidTransition(t, "archive")
		}
		if t.Archived {
			return t, events.Transition{}, false, nil
		}
		at := e.stamp()
		t.Archived = true
		t.ArchivedAt = &at
		t.ArchivedBy = &actor.ID
		return t, events.Transition{Kind: "task.archived"}, true, nil
	})
}

func (e Engine) UnarchiveTask(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	return e.stepTask(ctx, "unarchive task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !canArchive(actor, t) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "tasks.archive"}
		}
		if !t.Archivable() {
			return t, events.Transition{}, false, invalidTransition(t, "unarchive")
		}
		if !t.Archived {
			return t, events.Transition{}, false, nil
		}
		t.Archived = false
		t.ArchivedAt = nil
		t.ArchivedBy = nil
		return t, events.Transition{Kind: "task.unarchived"}, true, nil
	})
}
