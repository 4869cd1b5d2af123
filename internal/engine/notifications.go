package engine

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

type NotificationFilters = repo.NotificationFilters

// ListNotifications returns the actor's notifications, newest first.
func (e Engine) ListNotifications(ctx context.Context, actor auth.Actor, f NotificationFilters) ([]domain.Notification, error) {
	f.UserID = actor.ID
	return e.Repo.ListNotifications(ctx, f)
}

// MarkNotificationRead flips the read flag of one of the actor's notifications. Notifications of
// other teammates are reported as not found.
func (e Engine) MarkNotificationRead(ctx context.Context, actor auth.Actor, id string) (domain.Notification, error) {
	var out domain.Notification
	err := e.commit(ctx, "mark notification read", func(tx *sql.Tx) ([]events.Transition, error) {
		n, err := e.Repo.GetNotificationTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if n.UserID != actor.ID {
			return nil, repo.ErrNotFound
		}
		out = n
		if n.Read {
			return nil, nil
		}
		if err := e.Repo.MarkNotificationRead(ctx, tx, id, actor.ID); err != nil {
			return nil, err
		}
		n.Read = true
		out = n
		return []events.Transition{{
			Kind:       "notification.read",
			ActorID:    actor.ID,
			TargetKind: domain.KindNotification,
			TargetID:   n.ID,
			Record:     n,
		}}, nil
	})
	return out, err
}

// MarkAllNotificationsRead marks every unread notification of the actor and returns the count.
func (e Engine) MarkAllNotificationsRead(ctx context.Context, actor auth.Actor) (int64, error) {
	var n int64
	err := e.commit(ctx, "mark all notifications read", func(tx *sql.Tx) ([]events.Transition, error) {
		unread, err := e.Repo.ListNotificationsTx(ctx, tx, NotificationFilters{UserID: actor.ID, UnreadOnly: true})
		if err != nil {
			return nil, err
		}
		if n, err = e.Repo.MarkAllNotificationsRead(ctx, tx, actor.ID); err != nil {
			return nil, err
		}
		trs := make([]events.Transition, 0, len(unread))
		for _, u := range unread {
			u.Read = true
			trs = append(trs, events.Transition{
				Kind:       "notification.read",
				ActorID:    actor.ID,
				TargetKind: domain.KindNotification,
				TargetID:   u.ID,
				Record:     u,
			})
		}
		return trs, nil
	})
	return n, err
}
