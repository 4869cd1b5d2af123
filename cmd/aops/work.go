package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/app"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/engine/auth"
	"agencyops/internal/migrate"
)

func migrateDB(ctx context.Context, conn *sql.DB) error {
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func teammateCmd() *cobra.Command {
	tm := &cobra.Command{
		Use:   "teammate",
		Short: "Manage teammates",
		Long:  "Teammates sign up unapproved with the default role. CEO or HR approve them; a teammate's own role change is queued for the CEO.",
	}
	tm.AddCommand(teammateListCmd())
	tm.AddCommand(teammateSignupCmd())
	tm.AddCommand(teammateApproveCmd())
	tm.AddCommand(teammateRoleCmd())
	tm.AddCommand(teammateUseCmd())
	return tm
}

func teammateListCmd() *cobra.Command {
	var role string
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teammates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				f := engine.TeammateFilters{Role: role}
				if pending {
					approved := false
					f.Approved = &approved
				}
				items, err := e.ListTeammates(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Approved"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Email, t.Role, t.Approved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	cmd.Flags().BoolVar(&pending, "pending", false, "only teammates awaiting approval")
	return cmd
}

func teammateSignupCmd() *cobra.Command {
	var opts engine.SignupOptions
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Request an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tm, err := a.Engine.Signup(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(tm)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func teammateApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a signed-up teammate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				tm, err := e.ApproveTeammate(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tm)
			})
		},
	}
}

func teammateRoleCmd() *cobra.Command {
	var role, justification string
	cmd := &cobra.Command{
		Use:   "role <id>",
		Short: "Change a role, or request the change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.RequestRoleChange(ctx, actor, args[0], role, justification)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "new role")
	cmd.Flags().StringVar(&justification, "justification", "", "reason shown to the approver")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func teammateUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <email>",
		Short: "Act as this teammate by default in this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.ToLower(strings.TrimSpace(args[0]))
			if email == "" {
				return fmt.Errorf("email is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(envPath(workspace), "AGENCYOPS_AS", email); err != nil {
				return err
			}
			fmt.Printf("Set AGENCYOPS_AS=%s in %s\n", email, envPath(workspace))
			return nil
		},
	}
}

func clientCmd() *cobra.Command {
	cl := &cobra.Command{Use: "client", Short: "Manage clients"}
	cl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListClients(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	var opts engine.ClientOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				c, err := e.CreateClient(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&opts.Name, "name", "", "client name")
	create.Flags().StringVar(&opts.ContactName, "contact", "", "contact person")
	create.Flags().StringVar(&opts.Email, "email", "", "contact email")
	create.Flags().StringVar(&opts.Phone, "phone", "", "contact phone")
	_ = create.MarkFlagRequired("name")
	cl.AddCommand(create)
	return cl
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects group tasks for a client. Members are notified on creation and must accept within the configured window or the CEO is told the assignment expired.",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectAcceptCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f engine.ProjectFilters
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if mine {
					f.MemberID = actor.ID
				}
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Progress", "Members", "Deadline"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, fmt.Sprintf("%d%%", p.Progress), len(p.TeamMemberIDs), deref(p.Deadline)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only projects I assigned or belong to")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and notify its team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.CreateProject(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringArrayVar(&opts.TeamMemberIDs, "member", nil, "team member id (repeatable)")
	cmd.Flags().Int64Var(&opts.AllocatedTimeInSeconds, "allocated-seconds", 0, "time budget in seconds (0 is unlimited)")
	cmd.Flags().StringArrayVar(&opts.Divisions, "division", nil, "division (repeatable)")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept my assignment to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.AcceptAssignment(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Acceptance[actor.ID])
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow ToDo -> InProgress -> UnderReview -> Completed, with RevisionRequired sending work back. Only the assignee runs the timer; the assigner or the CEO reviews.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskRevisionCmd())
	for _, s := range []struct {
		use, short string
		fn         func(engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error)
	}{
		{"start", "Start work and the timer", func(e engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error) { return e.StartTask }},
		{"pause", "Pause the timer", func(e engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error) { return e.PauseTask }},
		{"resume", "Resume the timer", func(e engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error) { return e.ResumeTask }},
		{"approve", "Approve a task under review", func(e engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error) { return e.ApproveTask }},
		{"archive", "Archive a completed task", func(e engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error) { return e.ArchiveTask }},
	} {
		task.AddCommand(taskStepCmd(s.use, s.short, s.fn))
	}
	return task
}

func taskStepCmd(use, short string, pick func(engine.Engine) func(context.Context, auth.Actor, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := pick(e)(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and assign a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "Low, Medium, High or Urgent")
	cmd.Flags().Int64Var(&opts.AllocatedTimeInSeconds, "allocated-seconds", 0, "time budget in seconds")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilters
	var mine, archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if mine {
					f.AssigneeID = actor.ID
				}
				f.Archived = &archived
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Spent", "Timer"})
				for _, t := range tasks {
					timer := ""
					if t.Timer.Running() {
						timer = "running"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssigneeID, fmt.Sprintf("%ds", t.TimeSpentSeconds), timer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only tasks assigned to me")
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived tasks instead")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a completion report for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.SubmitTask(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Accomplishments, "accomplishments", "", "what was done")
	cmd.Flags().BoolVar(&opts.WorkExperience, "work-experience", false, "the work went well")
	cmd.Flags().StringVar(&opts.Suggestions, "suggestions", "", "suggestions")
	cmd.Flags().StringVar(&opts.DriveLink, "link", "", "deliverable link")
	_ = cmd.MarkFlagRequired("accomplishments")
	return cmd
}

func taskRevisionCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "revision <id>",
		Short: "Send a task back for revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.RequestRevision(ctx, actor, args[0], message)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "what to change")
	return cmd
}

func approvalsCmd() *cobra.Command {
	ap := &cobra.Command{
		Use:   "approvals",
		Short: "Review pending updates",
		Long:  "Edits a teammate may not apply directly wait here until the approver role resolves them.",
	}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListPending(ctx, actor, engine.PendingFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Item", "Requested by", "Status", "Fields"})
				for _, u := range items {
					fields := make([]string, 0, len(u.Data))
					for k := range u.Data {
						fields = append(fields, k)
					}
					tw.AppendRow(table.Row{u.ID, u.Type, u.ItemID, u.RequesterName, u.Status, strings.Join(fields, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", string(domain.PendingOpen), "status filter (empty for all)")
	ap.AddCommand(list)
	for _, r := range []struct {
		use, short string
		approve    bool
	}{
		{"approve", "Approve and apply a pending update", true},
		{"reject", "Reject a pending update", false},
	} {
		approve := r.approve
		ap.AddCommand(&cobra.Command{
			Use:   r.use + " <id>",
			Short: r.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
					resolve := e.Reject
					if approve {
						resolve = e.Approve
					}
					u, err := resolve(ctx, actor, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(u)
				})
			},
		})
	}
	return ap
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s  %s\n", t.ID, t.Title)
	fmt.Printf("  status:    %s\n", t.Status)
	fmt.Printf("  assignee:  %s (assigned by %s)\n", t.AssigneeID, t.AssignerID)
	fmt.Printf("  spent:     %ds of %ds\n", t.TimeSpentSeconds, t.AllocatedTimeInSeconds)
	if since, ok := t.Timer.Since(); ok {
		fmt.Printf("  timer:     running since %s\n", since.Format("2006-01-02 15:04:05"))
	}
	if t.RevisionNote != "" {
		fmt.Printf("  revision:  %s\n", t.RevisionNote)
	}
	return nil
}
