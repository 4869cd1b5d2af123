package engine

import (
	"context"
	"encoding/json"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

type EventFilters = repo.EventFilters

const maxChanges = 500

// Changes returns stored transitions after f.AfterID in order, as the actor may see them.
// Notifications and pending updates of other teammates are left out and teammate records lose
// the salary for actors who may not read it. The returned cursor still moves past withheld
// events.
func (e Engine) Changes(ctx context.Context, actor auth.Actor, f EventFilters) ([]domain.Event, int64, error) {
	if err := e.requireConfig(); err != nil {
		return nil, f.AfterID, err
	}
	if f.Limit <= 0 || f.Limit > maxChanges {
		f.Limit = maxChanges
	}
	evs, err := e.Repo.ListEvents(ctx, f)
	if err != nil {
		return nil, f.AfterID, PersistenceError{Op: "list changes", Err: err}
	}
	approver := auth.CanResolve(actor, e.Config.ApproverRole())
	cursor := f.AfterID
	out := make([]domain.Event, 0, len(evs))
	for _, ev := range evs {
		cursor = ev.ID
		switch domain.EntityKind(ev.EntityKind) {
		case domain.KindNotification:
			if recordOwner(ev, "user_id") != actor.ID {
				continue
			}
		case domain.KindPending:
			if !approver && recordOwner(ev, "requested_by") != actor.ID {
				continue
			}
		case domain.KindTeammate:
			ev = redactTeammate(actor, ev)
		}
		out = append(out, ev)
	}
	return out, cursor, nil
}

// recordOwner reads one string field of the event record. Deletions carry no record, so they
// match nobody.
func recordOwner(ev domain.Event, field string) string {
	p, err := events.DecodePayload(ev.Payload)
	if err != nil || len(p.Record) == 0 {
		return ""
	}
	var rec map[string]any
	if err := json.Unmarshal(p.Record, &rec); err != nil {
		return ""
	}
	v, _ := rec[field].(string)
	return v
}

func redactTeammate(actor auth.Actor, ev domain.Event) domain.Event {
	p, err := events.DecodePayload(ev.Payload)
	if err != nil || len(p.Record) == 0 {
		return ev
	}
	var tm domain.Teammate
	if err := json.Unmarshal(p.Record, &tm); err != nil {
		return ev
	}
	visible := auth.VisibleTeammate(actor, tm)
	if visible.Salary == tm.Salary {
		return ev
	}
	rec, err := json.Marshal(visible)
	if err != nil {
		return ev
	}
	p.Record = rec
	data, err := json.Marshal(p)
	if err != nil {
		return ev
	}
	ev.Payload = string(data)
	return ev
}
