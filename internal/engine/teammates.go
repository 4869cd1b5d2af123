package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"agencyops/internal/diff"
	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotApproved        = errors.New("account awaiting approval")
)

const teammatesLink = "teammates"

type SignupOptions struct {
	Name     string `validate:"required,max=120"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
	Phone    string `validate:"omitempty,max=40"`
}

// Signup registers an unapproved teammate with the configured default role. CEO and HR are told
// a request is waiting.
func (e Engine) Signup(ctx context.Context, opts SignupOptions) (domain.Teammate, error) {
	if err := e.requireConfig(); err != nil {
		return domain.Teammate{}, err
	}
	return e.RegisterTeammate(ctx, opts, e.Config.Roles.Default, false)
}

// RegisterTeammate creates a teammate with an explicit role and approval state. It is used by
// signup and by workspace bootstrap.
func (e Engine) RegisterTeammate(ctx context.Context, opts SignupOptions, role string, approved bool) (domain.Teammate, error) {
	opts.Email = normalizeEmail(opts.Email)
	if err := e.check(opts); err != nil {
		return domain.Teammate{}, err
	}
	if role == "" {
		role = domain.RoleStaff
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Teammate{}, ValidationError{Msg: "password", Err: err}
	}
	var out domain.Teammate
	err = e.commit(ctx, "register teammate", func(tx *sql.Tx) ([]events.Transition, error) {
		now := e.stamp()
		tm := domain.Teammate{
			ID:           e.newID(),
			Name:         opts.Name,
			Email:        opts.Email,
			Phone:        opts.Phone,
			Role:         role,
			Approved:     approved,
			PasswordHash: string(hash),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertTeammate(ctx, tx, tm); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil, fmt.Errorf("email %s is already registered: %w", tm.Email, ErrConflict)
			}
			return nil, err
		}
		out = tm
		tr := events.Transition{
			Kind:       "teammate.created",
			ActorID:    tm.ID,
			TargetKind: domain.KindTeammate,
			TargetID:   tm.ID,
			Record:     tm,
		}
		if !approved {
			approvers, err := e.teammateApprovers(ctx, tx)
			if err != nil {
				return nil, err
			}
			tr.Recipients = approvers
			tr.Message = fmt.Sprintf("%s requested access to the workspace.", tm.Name)
			tr.Link = teammatesLink
		}
		return []events.Transition{tr}, nil
	})
	return out, err
}

func (e Engine) teammateApprovers(ctx context.Context, q repo.DBTX) ([]string, error) {
	ceos, err := e.ceoIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	hr, err := e.Repo.TeammateIDsByRole(ctx, q, domain.RoleHR)
	if err != nil {
		return nil, err
	}
	return append(ceos, hr...), nil
}

// ApproveTeammate lets a signed-up teammate log in. Approving twice is a no-op.
func (e Engine) ApproveTeammate(ctx context.Context, actor auth.Actor, id string) (domain.Teammate, error) {
	if !auth.CanApproveTeammate(actor) {
		return domain.Teammate{}, auth.ForbiddenError{Permission: "teammates.approve"}
	}
	var out domain.Teammate
	err := e.commit(ctx, "approve teammate", func(tx *sql.Tx) ([]events.Transition, error) {
		tm, err := e.Repo.GetTeammateTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = tm
		if tm.Approved {
			return nil, nil
		}
		tm.Approved = true
		tm.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTeammate(ctx, tx, tm); err != nil {
			return nil, err
		}
		out = tm
		return []events.Transition{{
			Kind:       "teammate.approved",
			ActorID:    actor.ID,
			TargetKind: domain.KindTeammate,
			TargetID:   tm.ID,
			Recipients: []string{tm.ID},
			Message:    "Your account has been approved. Welcome aboard!",
			Record:     tm,
		}}, nil
	})
	return out, err
}

// Authenticate checks credentials. Unknown emails and wrong passwords are indistinguishable.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.Teammate, error) {
	tm, err := e.Repo.GetTeammateByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Teammate{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Teammate{}, PersistenceError{Op: "authenticate", Err: err}
	}
	if bcrypt.CompareHashAndPassword([]byte(tm.PasswordHash), []byte(password)) != nil {
		return domain.Teammate{}, ErrInvalidCredentials
	}
	if !tm.Approved {
		return domain.Teammate{}, ErrNotApproved
	}
	return tm, nil
}

func (e Engine) GetTeammate(ctx context.Context, id string) (domain.Teammate, error) {
	return e.Repo.GetTeammate(ctx, id)
}

type TeammateFilters = repo.TeammateFilters

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (e Engine) ListTeammates(ctx context.Context, f TeammateFilters) ([]domain.Teammate, error) {
	return e.Repo.ListTeammates(ctx, f)
}

// ProfileUpdate holds the profile fields to change. Nil fields are left alone.
type ProfileUpdate struct {
	Name   *string  `validate:"omitempty,min=1,max=120"`
	Email  *string  `validate:"omitempty,email"`
	Phone  *string  `validate:"omitempty,max=40"`
	Salary *float64 `validate:"omitempty,gte=0"`
}

// UpdateProfile changes a teammate's own details. Salary is reserved to CEO and HR; role changes
// go through RequestRoleChange.
func (e Engine) UpdateProfile(ctx context.Context, actor auth.Actor, id string, upd ProfileUpdate) (domain.Teammate, error) {
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		upd.Email = &email
	}
	if err := e.check(upd); err != nil {
		return domain.Teammate{}, err
	}
	if upd.Salary != nil && !auth.CanSetSalary(actor) {
		return domain.Teammate{}, auth.ForbiddenError{Permission: "teammates.salary"}
	}
	var out domain.Teammate
	err := e.commit(ctx, "update profile", func(tx *sql.Tx) ([]events.Transition, error) {
		tm, err := e.Repo.GetTeammateTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !auth.CanEditProfile(actor, tm) {
			return nil, auth.ForbiddenError{Permission: "teammates.edit"}
		}
		edited := tm
		if upd.Name != nil {
			edited.Name = *upd.Name
		}
		if upd.Email != nil {
			edited.Email = *upd.Email
		}
		if upd.Phone != nil {
			edited.Phone = *upd.Phone
		}
		if upd.Salary != nil {
			edited.Salary = *upd.Salary
		}
		if _, err := diff.TeammateSpec.Compute(tm, edited); err != nil {
			return nil, err
		}
		edited.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTeammate(ctx, tx, edited); err != nil {
			return nil, err
		}
		out = edited
		return []events.Transition{{
			Kind:       "teammate.updated",
			ActorID:    actor.ID,
			TargetKind: domain.KindTeammate,
			TargetID:   edited.ID,
			Record:     edited,
		}}, nil
	})
	return out, err
}

// ChangePassword replaces the actor's own password after checking the current one.
func (e Engine) ChangePassword(ctx context.Context, actor auth.Actor, current, next string) error {
	if len(next) < 8 || len(next) > 72 {
		return invalid("password must be 8 to 72 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return ValidationError{Msg: "password", Err: err}
	}
	return e.commit(ctx, "change password", func(tx *sql.Tx) ([]events.Transition, error) {
		tm, err := e.Repo.GetTeammateTx(ctx, tx, actor.ID)
		if err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword([]byte(tm.PasswordHash), []byte(current)) != nil {
			return nil, ErrInvalidCredentials
		}
		tm.PasswordHash = string(hash)
		tm.UpdatedAt = e.stamp()
		return nil, e.Repo.UpdateTeammate(ctx, tx, tm)
	})
}

type RoleOutcome struct {
	Applied  bool                  `json:"applied"`
	Teammate domain.Teammate       `json:"teammate"`
	Pending  *domain.PendingUpdate `json:"pending,omitempty"`
}

// RequestRoleChange changes a teammate's role. A teammate asking for their own role change always
// goes through approval; the justification travels with the request but is never merged.
func (e Engine) RequestRoleChange(ctx context.Context, actor auth.Actor, id, role, justification string) (RoleOutcome, error) {
	if err := e.requireConfig(); err != nil {
		return RoleOutcome{}, err
	}
	if !e.Config.HasRole(role) {
		return RoleOutcome{}, invalid("unknown role %q", role)
	}
	var out RoleOutcome
	err := e.commit(ctx, "change role", func(tx *sql.Tx) ([]events.Transition, error) {
		tm, err := e.Repo.GetTeammateTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out.Teammate = tm
		if tm.Role == role {
			return nil, ValidationError{Err: diff.ErrNoChange}
		}
		switch auth.RoleChange(actor, tm) {
		case auth.Direct:
			tr, err := e.setRole(ctx, tx, actor, tm, role)
			if err != nil {
				return nil, err
			}
			tr.Recipients = []string{tm.ID}
			tr.Message = fmt.Sprintf("Your role has been changed to %s.", role)
			out.Applied = true
			out.Teammate.Role = role
			return []events.Transition{tr}, nil
		case auth.Propose:
			data := map[string]any{"role": role}
			if justification != "" {
				data[domain.JustificationKey] = justification
			}
			u, tr, err := e.propose(ctx, tx, actor, domain.KindTeammate, tm.ID, diff.Change{
				Data:     data,
				Original: map[string]any{"role": tm.Role},
			})
			if err != nil {
				return nil, err
			}
			out.Pending = &u
			return []events.Transition{tr}, nil
		}
		return nil, auth.ForbiddenError{Permission: "teammates.role"}
	})
	return out, err
}

// setRole writes the role and returns a feed-only transition.
func (e Engine) setRole(ctx context.Context, tx *sql.Tx, actor auth.Actor, tm domain.Teammate, role string) (events.Transition, error) {
	tm.Role = role
	tm.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTeammate(ctx, tx, tm); err != nil {
		return events.Transition{}, err
	}
	return events.Transition{
		Kind:       "teammate.role_changed",
		ActorID:    actor.ID,
		TargetKind: domain.KindTeammate,
		TargetID:   tm.ID,
		Record:     tm,
	}, nil
}

// CreateAPIKey issues a key that authenticates as the actor. The plain key is returned once and
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, name string) (string, domain.APIKey, error) {
	plain := "aops_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:         e.newID(),
		TeammateID: actor.ID,
		Name:       name,
		KeyHash:    repo.HashAPIKey(plain),
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, e.DB, key); err != nil {
		return "", domain.APIKey{}, classify("create api key", err)
	}
	e.logger().WithField("actor_id", actor.ID).WithField("key_id", key.ID).Info("api key created")
	return plain, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor auth.Actor) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actor.ID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actor auth.Actor, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id, actor.ID)
}
