package engine

import (
	"context"
	"database/sql"
	"fmt"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
)

func setRating(r domain.Ratings, slot auth.RatingSlot, value int) (domain.Ratings, error) {
	if value < 1 || value > 5 {
		return r, invalid("rating must be between 1 and 5, got %d", value)
	}
	v := value
	switch slot {
	case auth.SlotAssigner:
		r.Assigner = &v
	case auth.SlotCEO:
		r.CEO = &v
	default:
		return r, invalid("unknown rating slot %q", slot)
	}
	return r, nil
}

func ratedMessage(kind domain.EntityKind, name string, value int) string {
	return fmt.Sprintf("You rated %s %q %d/5.", kind, name, value)
}

// RateTask fills one rating slot of a completed task. Ratings bypass the approval queue and may be
// overwritten by the same actor.
func (e Engine) RateTask(ctx context.Context, actor auth.Actor, id string, slot auth.RatingSlot, value int) (domain.Task, error) {
	return e.stepTask(ctx, "rate task", actor, id, func(_ *sql.Tx, t domain.Task) (domain.Task, events.Transition, bool, error) {
		if !auth.CanRate(actor, slot, t.AssignerID) {
			return t, events.Transition{}, false, auth.ForbiddenError{Permission: "ratings." + string(slot)}
		}
		if t.Status != domain.TaskCompleted {
			return t, events.Transition{}, false, invalid("only completed tasks can be rated")
		}
		r, err := setRating(t.Ratings, slot, value)
		if err != nil {
			return t, events.Transition{}, false, err
		}
		t.Ratings = r
		return t, events.Transition{
			Kind:         "task.rated",
			Recipients:   []string{actor.ID},
			IncludeActor: true,
			Message:      ratedMessage(domain.KindTask, t.Title, value),
			Link:         taskLink(t.ID),
		}, true, nil
	})
}

// RateProject fills one rating slot of a finished project.
func (e Engine) RateProject(ctx context.Context, actor auth.Actor, id string, slot auth.RatingSlot, value int) (domain.Project, error) {
	var out domain.Project
	err := e.commit(ctx, "rate project", func(tx *sql.Tx) ([]events.Transition, error) {
		p, err := e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !auth.CanRate(actor, slot, p.AssignerID) {
			return nil, auth.ForbiddenError{Permission: "ratings." + string(slot)}
		}
		if !p.Done() {
			return nil, invalid("only completed projects can be rated")
		}
		r, err := setRating(p.Ratings, slot, value)
		if err != nil {
			return nil, err
		}
		p.Ratings = r
		p.UpdatedAt = e.stamp()
		p, err = e.Repo.UpdateProjectCAS(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		out = p
		return []events.Transition{{
			Kind:         "project.rated",
			ActorID:      actor.ID,
			TargetKind:   domain.KindProject,
			TargetID:     p.ID,
			Recipients:   []string{actor.ID},
			IncludeActor: true,
			Message:      ratedMessage(domain.KindProject, p.Name, value),
			Link:         projectLink(p.ID),
			Record:       p,
		}}, nil
	})
	return out, err
}
