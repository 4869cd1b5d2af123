package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

const dayLayout = "2006-01-02"

// CheckIn opens today's attendance record for the actor. A second check-in on the same day is a
// conflict.
func (e Engine) CheckIn(ctx context.Context, actor auth.Actor) (domain.Attendance, error) {
	now := e.now().UTC()
	a := domain.Attendance{
		ID:         e.newID(),
		TeammateID: actor.ID,
		Day:        now.Format(dayLayout),
		CheckInAt:  now.Format(time.RFC3339),
		UpdatedAt:  now.Format(time.RFC3339),
	}
	err := e.commit(ctx, "check in", func(tx *sql.Tx) ([]events.Transition, error) {
		if err := e.Repo.InsertAttendance(ctx, tx, a); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil, fmt.Errorf("already checked in on %s: %w", a.Day, ErrConflict)
			}
			return nil, err
		}
		return []events.Transition{attendanceTransition("attendance.checked_in", a)}, nil
	})
	if err != nil {
		return domain.Attendance{}, err
	}
	return a, nil
}

// CheckOut closes today's record with the elapsed time since check-in. Checking out twice keeps
// the first check-out.
func (e Engine) CheckOut(ctx context.Context, actor auth.Actor) (domain.Attendance, error) {
	now := e.now().UTC()
	var out domain.Attendance
	err := e.commit(ctx, "check out", func(tx *sql.Tx) ([]events.Transition, error) {
		a, err := e.Repo.GetAttendanceForDay(ctx, tx, actor.ID, now.Format(dayLayout))
		if errors.Is(err, repo.ErrNotFound) {
			return nil, invalid("no check-in recorded today")
		}
		if err != nil {
			return nil, err
		}
		out = a
		if a.CheckOutAt != nil {
			return nil, nil
		}
		stamp := now.Format(time.RFC3339)
		a.CheckOutAt = &stamp
		a.WorkedSeconds = domain.ParseTimerState(a.CheckInAt).Elapsed(now)
		a.UpdatedAt = stamp
		closed, err := e.Repo.CloseAttendance(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		if !closed {
			return nil, nil
		}
		out = a
		return []events.Transition{attendanceTransition("attendance.checked_out", a)}, nil
	})
	return out, err
}

// ListAttendance returns a teammate's records between two days, inclusive. Teammates see their
// own records; CEO and HR see everyone's.
func (e Engine) ListAttendance(ctx context.Context, actor auth.Actor, teammateID, from, to string) ([]domain.Attendance, error) {
	if teammateID == "" {
		teammateID = actor.ID
	}
	if teammateID != actor.ID && !auth.CanSetSalary(actor) {
		return nil, auth.ForbiddenError{Permission: "attendance.read"}
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dayLayout, d); err != nil {
			return nil, invalid("invalid day %q, expected YYYY-MM-DD", d)
		}
	}
	return e.Repo.ListAttendance(ctx, teammateID, from, to)
}

func attendanceTransition(kind string, a domain.Attendance) events.Transition {
	return events.Transition{
		Kind:       kind,
		ActorID:    a.TeammateID,
		TargetKind: domain.KindAttendance,
		TargetID:   a.ID,
		Record:     a,
	}
}
