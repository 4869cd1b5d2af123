package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agencyops/internal/config"
	"agencyops/internal/diff"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/logging"
	"agencyops/internal/notify"
	"agencyops/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier *notify.Dispatcher
	Logger   *logrus.Logger
	Validate *validator.Validate
	Now      func() time.Time
	NewID    func() string
}

// New wires an engine whose notifications are stored in the database.
func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	logger := logging.Discard()
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{Now: time.Now},
		Config:   cfg,
		Notifier: notify.NewDispatcher(logger, notify.StoreSink{Repo: r, Events: events.Writer{Now: time.Now}}),
		Logger:   logger,
		Validate: validator.New(),
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

// ValidationError reports a request that cannot be applied as given. Nothing is persisted.
type ValidationError struct {
	Msg string
	Err error
}

func (e ValidationError) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure. The transition it belongs to was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e PersistenceError) Unwrap() error { return e.Err }

var (
	// ErrConflict reports a competing write or an already open proposal for the same target.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition reports a lifecycle action that is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConfigMissing     = errors.New("config not loaded")
)

func classify(op string, err error) error {
	var ve ValidationError
	var fe auth.ForbiddenError
	var pe PersistenceError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve), errors.As(err, &fe), errors.As(err, &pe):
		return err
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrNotApproved), errors.Is(err, ErrConfigMissing):
		return err
	case errors.Is(err, repo.ErrStale), errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, diff.ErrNoChange):
		return ValidationError{Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return PersistenceError{Op: op, Err: err}
}

// commit runs fn inside one transaction, stores the transitions it returns and, once the
// transaction is committed, hands them to the notifier. Any error rolls everything back.
func (e Engine) commit(ctx context.Context, op string, fn func(tx *sql.Tx) ([]events.Transition, error)) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()

	trs, err := fn(tx)
	if err != nil {
		return classify(op, err)
	}
	w := e.Events
	w.Now = e.now
	for _, tr := range trs {
		if err := w.Append(ctx, tx, tr); err != nil {
			return PersistenceError{Op: op, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return PersistenceError{Op: op, Err: err}
	}
	for _, tr := range trs {
		e.logger().WithFields(logrus.Fields{
			"event":       tr.Kind,
			"target_kind": tr.TargetKind,
			"target_id":   tr.TargetID,
			"actor_id":    tr.ActorID,
		}).Info("transition committed")
		e.Notifier.Dispatch(ctx, tr)
	}
	return nil
}

// check runs struct validation on option structs.
func (e Engine) check(opts any) error {
	v := e.Validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return ValidationError{Msg: strings.Join(msgs, "; ")}
		}
		return ValidationError{Err: err}
	}
	return nil
}

func (e Engine) requireConfig() error {
	if e.Config == nil {
		return ErrConfigMissing
	}
	return nil
}

// approverIDs lists the teammates who resolve pending updates.
func (e Engine) approverIDs(ctx context.Context, q repo.DBTX) ([]string, error) {
	return e.Repo.TeammateIDsByRole(ctx, q, e.Config.ApproverRole())
}

func (e Engine) ceoIDs(ctx context.Context, q repo.DBTX) ([]string, error) {
	return e.Repo.TeammateIDsByRole(ctx, q, "CEO")
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
