package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/app"
	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/engine/auth"
	"agencyops/internal/repo"
	"agencyops/internal/scheduler"
	"agencyops/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "aops",
	Short: "AgencyOps CLI",
	Long: `AgencyOps runs the back office of a creative agency: teammates, clients, projects and tasks.
Core concepts:
- Workspace: the .agencyops directory holding the database; configuration is stored in the DB and imported explicitly.
- Teammates: sign up, wait for CEO or HR approval, then log in. Roles come from the configured catalog.
- Projects: a team is notified on creation and each member has a limited window to accept the assignment.
- Tasks: ToDo -> InProgress -> UnderReview -> Completed, with a pausable timer and a revision loop.
- Approvals: edits a teammate may not apply directly are queued as pending updates for the CEO.
- Event log: every committed change, view with 'aops log tail' or stream it over /v1/changes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return loadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENCYOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadEnv reads <workspace>/.env into the process environment without overriding variables
// that are already set.
func loadEnv(workspace string) error {
	err := godotenv.Load(envPath(workspace))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func envPath(workspace string) string {
	return filepath.Join(workspace, ".env")
}

// setEnvValue writes key=value into the workspace .env file, keeping the other entries.
func setEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "email of the teammate performing the command")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(teammateCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var file, orgID string
	var owner app.Owner
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and its first CEO",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if file != "" {
				cfg, err := config.FromFile(file)
				if err != nil {
					return err
				}
				if err := importConfig(cmd.Context(), workspace, cfg); err != nil {
					return err
				}
			} else if orgID != "" {
				if err := importConfig(cmd.Context(), workspace, config.Default(orgID)); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.EnsureOwner(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace": workspace, "owner_created": created})
				}
				fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
				if created {
					fmt.Printf("Created CEO account %s\n", owner.Email)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "config", "", "YAML config to import")
	cmd.Flags().StringVar(&orgID, "org", "", "organisation id for the default config")
	cmd.Flags().StringVar(&owner.Name, "owner-name", "", "CEO display name")
	cmd.Flags().StringVar(&owner.Email, "owner-email", "", "CEO email")
	cmd.Flags().StringVar(&owner.Password, "owner-password", "", "CEO password")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and import configuration",
		Long:  "Config is the rulebook stored in the DB: role catalog, approver role, acceptance window, sweep schedule, webhooks and logging. Import from agencyops.yml when it changes.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configDefaultCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(a.Config)
				}
				out, err := a.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the stored config, or a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					return a.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if file == "" {
				file = config.Path(workspace)
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			if err := importConfig(cmd.Context(), workspace, cfg); err != nil {
				return err
			}
			return printJSONOrYAML(cfg)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config (defaults to agencyops.yml in the workspace)")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(orgID))
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "my-agency", "organisation id")
	return cmd
}

func importConfig(ctx context.Context, workspace string, cfg *config.Config) error {
	return withRepo(ctx, workspace, func(ctx context.Context, r repo.Repo) error {
		return r.UpsertConfig(ctx, cfg)
	})
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue project assignments and old announcements once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s := scheduler.New(a.Engine, a.Config.Workflow.SweepSchedule, a.Logger)
				expired, deactivated := s.RunOnce(ctx)
				if viper.GetBool("json") {
					return printJSON(map[string]int{"expired_assignments": expired, "deactivated_announcements": deactivated})
				}
				fmt.Printf("expired assignments: %d\ndeactivated announcements: %d\n", expired, deactivated)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var after int64
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var evs []domain.Event
				cursor := after
				for {
					page, err := a.Engine.Repo.ListEvents(ctx, repo.EventFilters{AfterID: cursor, EntityKind: entityKind, EntityID: entityID, Limit: 500})
					if err != nil {
						return err
					}
					if len(page) == 0 {
						break
					}
					evs = append(evs, page...)
					cursor = page[len(page)-1].ID
					if len(evs) > n {
						evs = evs[len(evs)-n:]
					}
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Actor"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this id")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("AGENCYOPS_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.EnsureOwner(ctx, app.Owner{
					Name:     viper.GetString("owner_name"),
					Email:    viper.GetString("owner_email"),
					Password: viper.GetString("owner_password"),
				}); err != nil {
					return err
				}
				if !noScheduler {
					s := scheduler.New(a.Engine, a.Config.Workflow.SweepSchedule, a.Logger)
					if err := s.Start(); err != nil {
						return err
					}
					defer s.Stop()
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: viper.GetDuration("token_ttl"), Logger: a.Logger},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.WithField("addr", addr).Infof("serving AgencyOps API under %s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the periodic sweeps")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogJSON:   viper.GetBool("json"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withActor opens the workspace and resolves --as to an approved teammate.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		email := strings.ToLower(strings.TrimSpace(viper.GetString("as")))
		if email == "" {
			return fmt.Errorf("--as <email> (or AGENCYOPS_AS) is required")
		}
		tm, err := a.Engine.Repo.GetTeammateByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("no teammate with email %s", email)
			}
			return err
		}
		if !tm.Approved {
			return engine.ErrNotApproved
		}
		return fn(ctx, a.Engine, auth.Actor{ID: tm.ID, Name: tm.Name, Role: tm.Role})
	})
}

func withRepo(ctx context.Context, workspace string, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrateDB(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSONOrYAML(cfg *config.Config) error {
	if viper.GetBool("json") {
		return printJSON(cfg)
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
