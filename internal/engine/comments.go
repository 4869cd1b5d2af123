package engine

import (
	"context"
	"database/sql"
	"fmt"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

// commentParties returns the teammates attached to a comment's parent, and a link to it.
func (e Engine) commentParties(ctx context.Context, q repo.DBTX, kind domain.EntityKind, parentID string) ([]string, string, string, error) {
	switch kind {
	case domain.KindTask:
		t, err := e.Repo.GetTaskTx(ctx, q, parentID)
		if err != nil {
			return nil, "", "", err
		}
		return []string{t.AssignerID, t.AssigneeID}, t.Title, taskLink(t.ID), nil
	case domain.KindProject:
		p, err := e.Repo.GetProjectTx(ctx, q, parentID)
		if err != nil {
			return nil, "", "", err
		}
		return append([]string{p.AssignerID}, p.TeamMemberIDs...), p.Name, projectLink(p.ID), nil
	}
	return nil, "", "", invalid("comments can only be attached to projects and tasks, not %q", kind)
}

// AddComment posts a comment on a project or task and tells the other parties about it. The
// author has read their own comment.
func (e Engine) AddComment(ctx context.Context, actor auth.Actor, kind domain.EntityKind, parentID, text string) (domain.Comment, error) {
	if text == "" {
		return domain.Comment{}, invalid("comment text is required")
	}
	var out domain.Comment
	err := e.commit(ctx, "add comment", func(tx *sql.Tx) ([]events.Transition, error) {
		parties, title, link, err := e.commentParties(ctx, tx, kind, parentID)
		if err != nil {
			return nil, err
		}
		c := domain.Comment{
			ID:         e.newID(),
			ParentKind: kind,
			ParentID:   parentID,
			AuthorID:   actor.ID,
			Text:       text,
			ReadBy:     []string{actor.ID},
			CreatedAt:  e.stamp(),
		}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return nil, err
		}
		out = c
		return []events.Transition{{
			Kind:       "comment.created",
			ActorID:    actor.ID,
			TargetKind: domain.KindComment,
			TargetID:   c.ID,
			Recipients: parties,
			Message:    fmt.Sprintf("%s commented on %s.", displayName(actor.Name, actor.ID), title),
			Link:       link,
			Record:     c,
		}}, nil
	})
	return out, err
}

// EditComment replaces the text of the actor's own comment.
func (e Engine) EditComment(ctx context.Context, actor auth.Actor, id, text string) (domain.Comment, error) {
	if text == "" {
		return domain.Comment{}, invalid("comment text is required")
	}
	var out domain.Comment
	err := e.commit(ctx, "edit comment", func(tx *sql.Tx) ([]events.Transition, error) {
		c, err := e.Repo.GetCommentTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if c.AuthorID != actor.ID {
			return nil, auth.ForbiddenError{Permission: "comments.edit"}
		}
		out = c
		if c.Text == text {
			return nil, nil
		}
		at := e.stamp()
		c.Text = text
		c.EditedAt = &at
		if err := e.Repo.UpdateComment(ctx, tx, c); err != nil {
			return nil, err
		}
		out = c
		return []events.Transition{{
			Kind:       "comment.updated",
			ActorID:    actor.ID,
			TargetKind: domain.KindComment,
			TargetID:   c.ID,
			Record:     c,
		}}, nil
	})
	return out, err
}

// MarkCommentRead adds the actor to the comment's read receipts. Marking twice is a no-op.
func (e Engine) MarkCommentRead(ctx context.Context, actor auth.Actor, id string) (domain.Comment, error) {
	var out domain.Comment
	err := e.commit(ctx, "mark comment read", func(tx *sql.Tx) ([]events.Transition, error) {
		c, err := e.Repo.GetCommentTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = c
		if contains(c.ReadBy, actor.ID) {
			return nil, nil
		}
		c.ReadBy = append(append([]string(nil), c.ReadBy...), actor.ID)
		if err := e.Repo.UpdateComment(ctx, tx, c); err != nil {
			return nil, err
		}
		out = c
		return []events.Transition{{
			Kind:       "comment.read",
			ActorID:    actor.ID,
			TargetKind: domain.KindComment,
			TargetID:   c.ID,
			Record:     c,
		}}, nil
	})
	return out, err
}

func (e Engine) ListComments(ctx context.Context, kind domain.EntityKind, parentID string) ([]domain.Comment, error) {
	return e.Repo.ListComments(ctx, kind, parentID)
}
