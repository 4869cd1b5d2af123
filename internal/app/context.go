package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/events"
	"agencyops/internal/logging"
	"agencyops/internal/migrate"
	"agencyops/internal/notify"
	"agencyops/internal/repo"
)

const defaultOrgID = "default-org"

// App is an opened workspace: database, configuration and a wired engine.
type App struct {
	DB       *sql.DB
	Config   *config.Config
	Engine   engine.Engine
	Logger   *logrus.Logger
	webhooks *notify.WebhookSink
}

// Options controls Open. LogLevel, when set, overrides the configured level.
type Options struct {
	Workspace string
	LogLevel  string
	LogJSON   bool
}

// Open migrates the workspace database, resolves the configuration and wires the engine with
// stored and webhook notifications.
func Open(ctx context.Context, opts Options) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	cfg, err := ResolveConfig(ctx, opts.Workspace, r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		JSON:       opts.LogJSON,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("logger: %w", err)
	}

	eng := engine.New(conn, cfg)
	eng.Logger = logger
	sinks := []notify.Sink{notify.StoreSink{Repo: r, Events: events.Writer{}}}
	var hooks *notify.WebhookSink
	if len(cfg.Notify.Webhooks) > 0 {
		hooks = notify.NewWebhookSink(cfg.Notify.Webhooks, logger)
		sinks = append(sinks, hooks)
	}
	eng.Notifier = notify.NewDispatcher(logger, sinks...)
	return &App{DB: conn, Config: cfg, Engine: eng, Logger: logger, webhooks: hooks}, nil
}

// Close drains pending webhook deliveries and closes the database.
func (a *App) Close() error {
	if a.webhooks != nil {
		a.webhooks.Close()
	}
	return a.DB.Close()
}

// ResolveConfig returns the stored configuration, seeding it from the workspace file or the
// default template when the database has none yet.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default(defaultOrgID)
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// Owner describes the first CEO account of a workspace.
type Owner struct {
	Name     string
	Email    string
	Password string
}

// EnsureOwner registers an approved CEO when the workspace has no teammates. It reports whether
// an account was created.
func (a *App) EnsureOwner(ctx context.Context, o Owner) (bool, error) {
	n, err := a.Engine.Repo.CountTeammates(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if o.Email == "" || o.Password == "" {
		return false, fmt.Errorf("workspace has no teammates; provide owner email and password")
	}
	if o.Name == "" {
		o.Name = "Owner"
	}
	tm, err := a.Engine.RegisterTeammate(ctx, engine.SignupOptions{
		Name:     o.Name,
		Email:    o.Email,
		Password: o.Password,
	}, domain.RoleCEO, true)
	if err != nil {
		return false, err
	}
	a.Logger.WithField("teammate_id", tm.ID).Info("workspace owner created")
	return true, nil
}
