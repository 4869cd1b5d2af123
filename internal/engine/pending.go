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

const approvalsLink = "approvals"

// Propose records a change request for an approver. An empty change is rejected with a
// ValidationError; an already open request for the same target is rejected with ErrConflict.
func (e Engine) Propose(ctx context.Context, actor auth.Actor, kind domain.EntityKind, itemID string, ch diff.Change) (domain.PendingUpdate, error) {
	if err := e.requireConfig(); err != nil {
		return domain.PendingUpdate{}, err
	}
	if ch.Empty() {
		return domain.PendingUpdate{}, ValidationError{Err: diff.ErrNoChange}
	}
	var out domain.PendingUpdate
	err := e.commit(ctx, "propose", func(tx *sql.Tx) ([]events.Transition, error) {
		u, tr, err := e.propose(ctx, tx, actor, kind, itemID, ch)
		if err != nil {
			return nil, err
		}
		out = u
		return []events.Transition{tr}, nil
	})
	return out, err
}

// propose inserts the pending record inside an open transaction and returns the transition that
// notifies the approvers.
func (e Engine) propose(ctx context.Context, tx *sql.Tx, actor auth.Actor, kind domain.EntityKind, itemID string, ch diff.Change) (domain.PendingUpdate, events.Transition, error) {
	spec, ok := diff.For(kind)
	if !ok {
		return domain.PendingUpdate{}, events.Transition{}, ValidationError{Msg: fmt.Sprintf("%s changes cannot be proposed", kind)}
	}
	ch.Data = spec.Restrict(ch.Data)
	if ch.Empty() {
		return domain.PendingUpdate{}, events.Transition{}, ValidationError{Err: diff.ErrNoChange}
	}
	if _, err := e.Repo.LivePending(ctx, tx, kind, itemID); err == nil {
		return domain.PendingUpdate{}, events.Transition{}, fmt.Errorf("a change for this %s is already awaiting approval: %w", kind, ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.PendingUpdate{}, events.Transition{}, err
	}
	original := ch.Original
	if original == nil {
		original = map[string]any{}
	}
	name := actor.Name
	if name == "" {
		if tm, err := e.Repo.GetTeammateTx(ctx, tx, actor.ID); err == nil {
			name = tm.Name
		}
	}
	u := domain.PendingUpdate{
		ID:            e.newID(),
		Type:          kind,
		ItemID:        itemID,
		Data:          ch.Data,
		OriginalData:  original,
		RequestedBy:   actor.ID,
		RequesterName: name,
		Status:        domain.PendingOpen,
		CreatedAt:     e.stamp(),
	}
	if err := e.Repo.InsertPending(ctx, tx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return u, events.Transition{}, ErrConflict
		}
		return u, events.Transition{}, err
	}
	approvers, err := e.approverIDs(ctx, tx)
	if err != nil {
		return u, events.Transition{}, err
	}
	verb := "a change to"
	if u.IsDelete() {
		verb = "the deletion of"
	}
	return u, events.Transition{
		Kind:       "pending_update.created",
		ActorID:    actor.ID,
		TargetKind: domain.KindPending,
		TargetID:   u.ID,
		Recipients: approvers,
		Message:    fmt.Sprintf("%s requested %s a %s.", displayName(name, actor.ID), verb, kind),
		Link:       approvalsLink,
		Record:     u,
	}, nil
}

type PendingFilters = repo.PendingFilters

// ListPending returns pending updates. Approvers see every request, everyone else only their own.
func (e Engine) ListPending(ctx context.Context, actor auth.Actor, f PendingFilters) ([]domain.PendingUpdate, error) {
	if err := e.requireConfig(); err != nil {
		return nil, err
	}
	if !auth.CanResolve(actor, e.Config.ApproverRole()) {
		f.RequestedBy = actor.ID
	}
	return e.Repo.ListPending(ctx, f)
}

// GetPending returns one update. Other teammates' requests look missing to non-approvers.
func (e Engine) GetPending(ctx context.Context, actor auth.Actor, id string) (domain.PendingUpdate, error) {
	if err := e.requireConfig(); err != nil {
		return domain.PendingUpdate{}, err
	}
	u, err := e.Repo.GetPending(ctx, id)
	if err != nil {
		return domain.PendingUpdate{}, err
	}
	if u.RequestedBy != actor.ID && !auth.CanResolve(actor, e.Config.ApproverRole()) {
		return domain.PendingUpdate{}, fmt.Errorf("pending update %s: %w", id, repo.ErrNotFound)
	}
	return u, nil
}

// Approve resolves the update as approved and applies it to its target. Approving an already
// resolved update returns it unchanged. A target that no longer exists is skipped; the update
// is still resolved.
func (e Engine) Approve(ctx context.Context, resolver auth.Actor, id string) (domain.PendingUpdate, error) {
	return e.resolve(ctx, resolver, id, domain.PendingApproved)
}

// Reject resolves the update as rejected without touching its target.
func (e Engine) Reject(ctx context.Context, resolver auth.Actor, id string) (domain.PendingUpdate, error) {
	return e.resolve(ctx, resolver, id, domain.PendingRejected)
}

func (e Engine) resolve(ctx context.Context, resolver auth.Actor, id string, status domain.PendingStatus) (domain.PendingUpdate, error) {
	if err := e.requireConfig(); err != nil {
		return domain.PendingUpdate{}, err
	}
	if !auth.CanResolve(resolver, e.Config.ApproverRole()) {
		return domain.PendingUpdate{}, auth.ForbiddenError{Permission: "approvals.resolve"}
	}
	var out domain.PendingUpdate
	err := e.commit(ctx, "resolve pending update", func(tx *sql.Tx) ([]events.Transition, error) {
		u, err := e.Repo.GetPendingTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = u
		if u.Status != domain.PendingOpen {
			return nil, nil
		}
		at := e.stamp()
		ok, err := e.Repo.ResolvePending(ctx, tx, id, status, resolver.ID, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			// resolved by a concurrent caller between our read and write
			out, err = e.Repo.GetPendingTx(ctx, tx, id)
			return nil, err
		}
		u.Status = status
		u.ResolvedAt = &at
		u.ResolvedBy = &resolver.ID
		out = u

		var trs []events.Transition
		if status == domain.PendingApproved {
			applied, err := e.applyPending(ctx, tx, resolver, u)
			if err != nil {
				return nil, err
			}
			trs = append(trs, applied...)
		}
		trs = append(trs, events.Transition{
			Kind:       "pending_update." + string(status),
			ActorID:    resolver.ID,
			TargetKind: domain.KindPending,
			TargetID:   u.ID,
			Recipients: []string{u.RequestedBy},
			Message:    resolutionMessage(u),
			Link:       approvalsLink,
			Record:     u,
		})
		return trs, nil
	})
	return out, err
}

func resolutionMessage(u domain.PendingUpdate) string {
	outcome := "approved"
	if u.Status == domain.PendingRejected {
		outcome = "rejected"
	}
	if u.Type == domain.KindTeammate {
		if role, ok := u.Data["role"].(string); ok {
			return fmt.Sprintf("Your role change request to %s has been %s.", role, outcome)
		}
	}
	return fmt.Sprintf("Your requested change for %s has been %s.", u.Type, outcome)
}

// applyPending merges an approved update into its target. A missing target yields no transitions.
func (e Engine) applyPending(ctx context.Context, tx *sql.Tx, resolver auth.Actor, u domain.PendingUpdate) ([]events.Transition, error) {
	switch u.Type {
	case domain.KindProject:
		p, err := e.Repo.GetProjectTx(ctx, tx, u.ItemID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().WithField("update_id", u.ID).Warn("approved project no longer exists; skipping merge")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		_, tr, err := e.applyProjectChange(ctx, tx, resolver, p, u.Data)
		if err != nil {
			return nil, err
		}
		return []events.Transition{tr}, nil
	case domain.KindTask:
		t, err := e.Repo.GetTaskTx(ctx, tx, u.ItemID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().WithField("update_id", u.ID).Warn("approved task no longer exists; skipping merge")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if u.IsDelete() {
			tr, err := e.deleteTask(ctx, tx, resolver, t)
			if err != nil {
				return nil, err
			}
			return []events.Transition{tr}, nil
		}
		_, tr, err := e.applyTaskChange(ctx, tx, resolver, t, u.Data)
		if err != nil {
			return nil, err
		}
		return []events.Transition{tr}, nil
	case domain.KindTeammate:
		tm, err := e.Repo.GetTeammateTx(ctx, tx, u.ItemID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().WithField("update_id", u.ID).Warn("approved teammate no longer exists; skipping merge")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		role, _ := u.Data["role"].(string)
		if role == "" || role == tm.Role {
			return nil, nil
		}
		tr, err := e.setRole(ctx, tx, resolver, tm, role)
		if err != nil {
			return nil, err
		}
		return []events.Transition{tr}, nil
	}
	return nil, invalid("unknown pending update type %s", u.Type)
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
