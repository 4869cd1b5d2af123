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

type AnnouncementOptions struct {
	Title          string   `validate:"required,max=200"`
	Body           string   `validate:"required"`
	TargetAudience string   `validate:"omitempty,oneof=All Management Staff Specific"`
	TargetRoles    []string `validate:"required_if=TargetAudience Specific,dive,required"`
	ExpiresAt      string   `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// CreateAnnouncement posts an announcement and notifies every approved teammate in its audience.
func (e Engine) CreateAnnouncement(ctx context.Context, actor auth.Actor, opts AnnouncementOptions) (domain.Announcement, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Announcement{}, err
	}
	if !auth.CanAnnounce(actor, e.Config.ManagementRoles()) {
		return domain.Announcement{}, auth.ForbiddenError{Permission: "announcements.create"}
	}
	if err := e.check(opts); err != nil {
		return domain.Announcement{}, err
	}
	if opts.TargetAudience == "" {
		opts.TargetAudience = domain.AudienceAll
	}
	var out domain.Announcement
	err := e.commit(ctx, "create announcement", func(tx *sql.Tx) ([]events.Transition, error) {
		a := domain.Announcement{
			ID:             e.newID(),
			Title:          opts.Title,
			Body:           opts.Body,
			AuthorID:       actor.ID,
			TargetAudience: opts.TargetAudience,
			TargetRoles:    opts.TargetRoles,
			ViewedBy:       []string{},
			ExpiresAt:      optionalString(opts.ExpiresAt),
			IsActive:       true,
			CreatedAt:      e.stamp(),
		}
		if a.TargetRoles == nil {
			a.TargetRoles = []string{}
		}
		if err := e.Repo.InsertAnnouncement(ctx, tx, a); err != nil {
			return nil, err
		}
		out = a
		approved := true
		team, err := e.Repo.ListTeammatesTx(ctx, tx, TeammateFilters{Approved: &approved})
		if err != nil {
			return nil, err
		}
		var audience []string
		for _, tm := range team {
			if e.audienceIncludes(a, tm.Role) {
				audience = append(audience, tm.ID)
			}
		}
		return []events.Transition{{
			Kind:       "announcement.created",
			ActorID:    actor.ID,
			TargetKind: domain.KindAnnouncement,
			TargetID:   a.ID,
			Recipients: audience,
			Message:    fmt.Sprintf("New announcement: %s", a.Title),
			Link:       "announcements",
			Record:     a,
		}}, nil
	})
	return out, err
}

// audienceIncludes reports whether a teammate with role is addressed by the announcement.
func (e Engine) audienceIncludes(a domain.Announcement, role string) bool {
	management := role == domain.RoleCEO || contains(e.Config.ManagementRoles(), role)
	switch a.TargetAudience {
	case domain.AudienceAll, "":
		return true
	case domain.AudienceManagement:
		return management
	case domain.AudienceStaff:
		return !management
	case domain.AudienceSpecific:
		return contains(a.TargetRoles, role)
	}
	return false
}

// visible reports whether the announcement is live at now for a teammate with role. Authors always
// see their own announcements while they are active.
func (e Engine) visible(a domain.Announcement, actor auth.Actor, now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.ExpiresAt != nil {
		if exp, err := time.Parse(time.RFC3339, *a.ExpiresAt); err == nil && !now.Before(exp) {
			return false
		}
	}
	return a.AuthorID == actor.ID || e.audienceIncludes(a, actor.Role)
}

// ListAnnouncements returns the active, unexpired announcements addressed to the actor.
func (e Engine) ListAnnouncements(ctx context.Context, actor auth.Actor) ([]domain.Announcement, error) {
	if err := e.requireConfig(); err != nil {
		return nil, err
	}
	all, err := e.Repo.ListActiveAnnouncements(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]domain.Announcement, 0, len(all))
	for _, a := range all {
		if e.visible(a, actor, now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// MarkAnnouncementViewed appends the actor to the viewers. Viewing twice is a no-op.
func (e Engine) MarkAnnouncementViewed(ctx context.Context, actor auth.Actor, id string) (domain.Announcement, error) {
	var out domain.Announcement
	err := e.commit(ctx, "view announcement", func(tx *sql.Tx) ([]events.Transition, error) {
		a, err := e.Repo.GetAnnouncementTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = a
		if contains(a.ViewedBy, actor.ID) {
			return nil, nil
		}
		a.ViewedBy = append(append([]string(nil), a.ViewedBy...), actor.ID)
		if err := e.Repo.UpdateAnnouncementViews(ctx, tx, a.ID, a.ViewedBy); err != nil {
			return nil, err
		}
		out = a
		return []events.Transition{{
			Kind:       "announcement.viewed",
			ActorID:    actor.ID,
			TargetKind: domain.KindAnnouncement,
			TargetID:   a.ID,
			Record:     a,
		}}, nil
	})
	return out, err
}

// SweepAnnouncements deactivates announcements past their expiry and returns how many changed.
func (e Engine) SweepAnnouncements(ctx context.Context) (int, error) {
	var n int
	err := e.commit(ctx, "sweep announcements", func(tx *sql.Tx) ([]events.Transition, error) {
		ids, err := e.Repo.DeactivateExpired(ctx, tx, e.stamp())
		if err != nil {
			return nil, err
		}
		n = len(ids)
		trs := make([]events.Transition, 0, len(ids))
		for _, id := range ids {
			trs = append(trs, events.Transition{
				Kind:       "announcement.expired",
				ActorID:    "system",
				TargetKind: domain.KindAnnouncement,
				TargetID:   id,
			})
		}
		return trs, nil
	})
	return n, err
}
