package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/engine/auth"
)

type idPath struct {
	ID string `path:"id"`
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body ClientRequest
	}) (*out[domain.Client], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, actor, engine.ClientOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Client], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Client], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.GetClient(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPut,
		Path:        "/clients/{id}",
		Summary:     "Replace client details",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ClientRequest
	}) (*out[domain.Client], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateClient(ctx, actor, input.ID, engine.ClientOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-client",
		Method:        http.MethodDelete,
		Path:          "/clients/{id}",
		Summary:       "Delete client",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteClient(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project and notify its team",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*out[domain.Project], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, actor, engine.CreateProjectOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		MemberID string `query:"member_id"`
		Status   string `query:"status" enum:"Active,OnHold,Completed"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*out[Paginated[domain.Project]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		page, perr := pageOf(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListProjects(ctx, engine.ProjectFilters{MemberID: input.MemberID, Status: input.Status, Page: page})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paginate(items, page, func(p domain.Project) (string, string) { return p.CreatedAt, p.ID })), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project; overdue assignments are expired on read",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Project], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Edit project, or propose the edit for approval",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body map[string]any `required:"true"`
	}) (*out[engine.ProjectOutcome], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.PatchProject(ctx, actor, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/accept",
		Summary:     "Accept own project assignment",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Project], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AcceptAssignment(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rate-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/rate",
		Summary:     "Rate a finished project",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RateRequest
	}) (*out[domain.Project], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RateProject(ctx, actor, input.ID, auth.RatingSlot(input.Body.Slot), input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create and assign a task",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*out[TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actor, engine.CreateTaskOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		AssigneeID string `query:"assignee_id"`
		AssignerID string `query:"assigner_id"`
		Status     string `query:"status" enum:"ToDo,InProgress,UnderReview,RevisionRequired,Completed"`
		Archived   string `query:"archived" enum:"true,false"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[Paginated[TaskResponse]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		page, perr := pageOf(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		f := engine.TaskFilters{
			ProjectID:  input.ProjectID,
			AssigneeID: input.AssigneeID,
			AssignerID: input.AssignerID,
			Status:     input.Status,
			Page:       page,
		}
		if input.Archived != "" {
			archived := input.Archived == "true"
			f.Archived = &archived
		}
		items, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		res := paginate(mapTasks(items), page, func(t TaskResponse) (string, string) { return t.CreatedAt, t.ID })
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[TaskResponse], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit task, or propose the edit for approval",
		Description: "Set embedded=true when the edit is made from a project view; that entry point routes non-assigners through approval.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID       string         `path:"id"`
		Embedded bool           `query:"embedded"`
		Body     map[string]any `required:"true"`
	}) (*out[TaskOutcomeResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		mode := engine.EditStandalone
		if input.Embedded {
			mode = engine.EditEmbedded
		}
		res, err := e.PatchTask(ctx, actor, input.ID, input.Body, mode)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskOutcome(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task, or propose the deletion once work has started",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[TaskOutcomeResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskOutcome(res)), nil
	})

	steps := []struct {
		op, path, summary string
		fn                func(context.Context, auth.Actor, string) (domain.Task, error)
	}{
		{"start-task", "/tasks/{id}/start", "Start work and the timer", e.StartTask},
		{"pause-task", "/tasks/{id}/pause", "Pause the timer", e.PauseTask},
		{"resume-task", "/tasks/{id}/resume", "Resume the timer", e.ResumeTask},
		{"approve-task", "/tasks/{id}/approve", "Approve a task under review", e.ApproveTask},
		{"archive-task", "/tasks/{id}/archive", "Archive a completed task", e.ArchiveTask},
		{"unarchive-task", "/tasks/{id}/unarchive", "Restore an archived task", e.UnarchiveTask},
	}
	for _, s := range steps {
		fn := s.fn
		huma.Register(api, huma.Operation{
			OperationID: s.op,
			Method:      http.MethodPost,
			Path:        s.path,
			Summary:     s.summary,
			Errors:      commonErrors,
		}, func(ctx context.Context, input *idPath) (*out[TaskResponse], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, err := fn(ctx, actor, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(taskResponse(t)), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/submit",
		Summary:     "Submit a completion report for review",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SubmitTaskRequest
	}) (*out[TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitTask(ctx, actor, input.ID, engine.SubmitOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-revision",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/revision",
		Summary:     "Send a task back for revision",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RevisionRequest
	}) (*out[TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RequestRevision(ctx, actor, input.ID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/rate",
		Summary:     "Rate a completed task",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RateRequest
	}) (*out[TaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RateTask(ctx, actor, input.ID, auth.RatingSlot(input.Body.Slot), input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})
}

func taskOutcome(res engine.TaskOutcome) TaskOutcomeResponse {
	return TaskOutcomeResponse{Applied: res.Applied, Task: taskResponse(res.Task), Pending: res.Pending}
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List pending updates; non-approvers see their own requests",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,approved,rejected"`
		Type   string `query:"type" enum:"project,task,teammate"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*out[Paginated[domain.PendingUpdate]], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := pageOf(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListPending(ctx, actor, engine.PendingFilters{Status: input.Status, Type: input.Type, Page: page})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paginate(items, page, func(u domain.PendingUpdate) (string, string) { return u.CreatedAt, u.ID })), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{id}",
		Summary:     "Get pending update",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.PendingUpdate], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetPending(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	resolvers := []struct {
		op, path, summary string
		fn                func(context.Context, auth.Actor, string) (domain.PendingUpdate, error)
	}{
		{"approve-update", "/approvals/{id}/approve", "Approve and apply a pending update", e.Approve},
		{"reject-update", "/approvals/{id}/reject", "Reject a pending update", e.Reject},
	}
	for _, r := range resolvers {
		fn := r.fn
		huma.Register(api, huma.Operation{
			OperationID: r.op,
			Method:      http.MethodPost,
			Path:        r.path,
			Summary:     r.summary,
			Errors:      commonErrors,
		}, func(ctx context.Context, input *idPath) (*out[domain.PendingUpdate], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			u, err := fn(ctx, actor, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(u), nil
		})
	}
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/comments",
		Summary:     "List comments on a project or task",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ParentKind string `query:"parent_kind" enum:"project,task" required:"true"`
		ParentID   string `query:"parent_id" required:"true"`
	}) (*out[[]domain.Comment], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListComments(ctx, domain.EntityKind(input.ParentKind), input.ParentID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/comments",
		Summary:       "Comment on a project or task",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CommentRequest
	}) (*out[domain.Comment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actor, domain.EntityKind(input.Body.ParentKind), input.Body.ParentID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-comment",
		Method:      http.MethodPatch,
		Path:        "/comments/{id}",
		Summary:     "Edit own comment",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body EditCommentRequest
	}) (*out[domain.Comment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditComment(ctx, actor, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-comment",
		Method:      http.MethodPost,
		Path:        "/comments/{id}/read",
		Summary:     "Mark a comment read",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Comment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.MarkCommentRead(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own notifications",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Unread bool   `query:"unread"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*out[Paginated[domain.Notification]], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := pageOf(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListNotifications(ctx, actor, engine.NotificationFilters{UnreadOnly: input.Unread, Page: page})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(paginate(items, page, func(n domain.Notification) (string, string) { return n.CreatedAt, n.ID })), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification read",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Notification], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkNotificationRead(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-all-notifications",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark every own notification read",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[CountResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllNotificationsRead(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})
}

func registerAnnouncements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-announcement",
		Method:        http.MethodPost,
		Path:          "/announcements",
		Summary:       "Post an announcement",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body AnnouncementRequest
	}) (*out[domain.Announcement], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAnnouncement(ctx, actor, engine.AnnouncementOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-announcements",
		Method:      http.MethodGet,
		Path:        "/announcements",
		Summary:     "List live announcements addressed to the caller",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Announcement], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAnnouncements(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-announcement",
		Method:      http.MethodPost,
		Path:        "/announcements/{id}/view",
		Summary:     "Record that the caller viewed an announcement",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Announcement], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.MarkAnnouncementViewed(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})
}

func registerAttendance(api huma.API, e engine.Engine) {
	for _, s := range []struct {
		op, path, summary string
		fn                func(context.Context, auth.Actor) (domain.Attendance, error)
	}{
		{"check-in", "/attendance/check-in", "Check in for today", e.CheckIn},
		{"check-out", "/attendance/check-out", "Check out for today", e.CheckOut},
	} {
		fn := s.fn
		huma.Register(api, huma.Operation{
			OperationID: s.op,
			Method:      http.MethodPost,
			Path:        s.path,
			Summary:     s.summary,
			Errors:      commonErrors,
		}, func(ctx context.Context, _ *struct{}) (*out[domain.Attendance], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := fn(ctx, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(a), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-attendance",
		Method:      http.MethodGet,
		Path:        "/attendance",
		Summary:     "List attendance records between two days",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TeammateID string `query:"teammate_id"`
		From       string `query:"from" example:"2024-03-01"`
		To         string `query:"to" example:"2024-03-31"`
	}) (*out[[]domain.Attendance], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAttendance(ctx, actor, input.TeammateID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}
