package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agencyops/internal/domain"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

// StoreSink persists notifications so teammates can list and acknowledge them. Each stored
// notification is also published on the change feed.
type StoreSink struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (s StoreSink) Notify(ctx context.Context, userID, message, link string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Link:      link,
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertNotification(ctx, tx, n); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, events.Transition{
		Kind:       "notification.created",
		ActorID:    "system",
		TargetKind: domain.KindNotification,
		TargetID:   n.ID,
		Record:     n,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
