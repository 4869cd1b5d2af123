package engine

import (
	"context"
	"database/sql"

	"agencyops/internal/domain"
	"agencyops/internal/engine/auth"
	"agencyops/internal/events"
)

type ClientOptions struct {
	Name        string `validate:"required,max=200"`
	ContactName string `validate:"max=120"`
	Email       string `validate:"omitempty,email"`
	Phone       string `validate:"max=40"`
}

func (e Engine) CreateClient(ctx context.Context, actor auth.Actor, opts ClientOptions) (domain.Client, error) {
	if !auth.CanManageClients(actor) {
		return domain.Client{}, auth.ForbiddenError{Permission: "clients.manage"}
	}
	if err := e.check(opts); err != nil {
		return domain.Client{}, err
	}
	now := e.stamp()
	c := domain.Client{
		ID:          e.newID(),
		Name:        opts.Name,
		ContactName: opts.ContactName,
		Email:       opts.Email,
		Phone:       opts.Phone,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.commit(ctx, "create client", func(tx *sql.Tx) ([]events.Transition, error) {
		if err := e.Repo.InsertClient(ctx, tx, c); err != nil {
			return nil, err
		}
		return []events.Transition{clientTransition("client.created", actor, c)}, nil
	})
	if err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// UpdateClient replaces the client's contact details.
func (e Engine) UpdateClient(ctx context.Context, actor auth.Actor, id string, opts ClientOptions) (domain.Client, error) {
	if !auth.CanManageClients(actor) {
		return domain.Client{}, auth.ForbiddenError{Permission: "clients.manage"}
	}
	if err := e.check(opts); err != nil {
		return domain.Client{}, err
	}
	var out domain.Client
	err := e.commit(ctx, "update client", func(tx *sql.Tx) ([]events.Transition, error) {
		c, err := e.Repo.GetClientTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		c.Name, c.ContactName, c.Email, c.Phone = opts.Name, opts.ContactName, opts.Email, opts.Phone
		c.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateClient(ctx, tx, c); err != nil {
			return nil, err
		}
		out = c
		return []events.Transition{clientTransition("client.updated", actor, c)}, nil
	})
	return out, err
}

// DeleteClient removes the client. Projects and tasks keep their client id.
func (e Engine) DeleteClient(ctx context.Context, actor auth.Actor, id string) error {
	if !auth.CanManageClients(actor) {
		return auth.ForbiddenError{Permission: "clients.manage"}
	}
	return e.commit(ctx, "delete client", func(tx *sql.Tx) ([]events.Transition, error) {
		if err := e.Repo.DeleteClient(ctx, tx, id); err != nil {
			return nil, err
		}
		return []events.Transition{{
			Kind:       "client.deleted",
			ActorID:    actor.ID,
			TargetKind: domain.KindClient,
			TargetID:   id,
		}}, nil
	})
}

func (e Engine) GetClient(ctx context.Context, id string) (domain.Client, error) {
	return e.Repo.GetClient(ctx, id)
}

func (e Engine) ListClients(ctx context.Context) ([]domain.Client, error) {
	return e.Repo.ListClients(ctx)
}

func clientTransition(kind string, actor auth.Actor, c domain.Client) events.Transition {
	return events.Transition{
		Kind:       kind,
		ActorID:    actor.ID,
		TargetKind: domain.KindClient,
		TargetID:   c.ID,
		Record:     c,
	}
}
