package server

import (
	"agencyops/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"1"`
}

type SignupRequest struct {
	Name     string `json:"name" minLength:"1"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8" maxLength:"72"`
	Phone    string `json:"phone,omitempty"`
}

type ProfileRequest struct {
	Name   *string  `json:"name,omitempty"`
	Email  *string  `json:"email,omitempty"`
	Phone  *string  `json:"phone,omitempty"`
	Salary *float64 `json:"salary,omitempty"`
}

type RoleChangeRequest struct {
	Role          string `json:"role" minLength:"1"`
	Justification string `json:"justification,omitempty"`
}

type PasswordRequest struct {
	Current string `json:"current"`
	Next    string `json:"next" minLength:"8" maxLength:"72"`
}

type APIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type ClientRequest struct {
	Name        string `json:"name" minLength:"1"`
	ContactName string `json:"contact_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type CreateProjectRequest struct {
	Name                   string   `json:"name" minLength:"1"`
	Description            string   `json:"description,omitempty"`
	ClientID               string   `json:"client_id,omitempty"`
	TeamMemberIDs          []string `json:"team_member_ids,omitempty"`
	AllocatedTimeInSeconds int64    `json:"allocated_time_in_seconds,omitempty" minimum:"0"`
	Divisions              []string `json:"divisions,omitempty"`
	Deadline               string   `json:"deadline,omitempty"`
}

type CreateTaskRequest struct {
	Title                  string `json:"title" minLength:"1"`
	Description            string `json:"description,omitempty"`
	ProjectID              string `json:"project_id,omitempty"`
	ClientID               string `json:"client_id,omitempty"`
	AssigneeID             string `json:"assignee_id" minLength:"1"`
	Priority               string `json:"priority,omitempty" enum:"Low,Medium,High,Urgent"`
	AllocatedTimeInSeconds int64  `json:"allocated_time_in_seconds,omitempty" minimum:"0"`
	DueDate                string `json:"due_date,omitempty"`
}

type SubmitTaskRequest struct {
	Accomplishments string `json:"accomplishments" minLength:"1"`
	WorkExperience  bool   `json:"work_experience,omitempty"`
	Suggestions     string `json:"suggestions,omitempty"`
	DriveLink       string `json:"drive_link,omitempty"`
}

type RevisionRequest struct {
	Message string `json:"message,omitempty"`
}

type RateRequest struct {
	Slot  string `json:"slot" enum:"assigner,ceo"`
	Value int    `json:"value" minimum:"1" maximum:"5"`
}

type CommentRequest struct {
	ParentKind string `json:"parent_kind" enum:"project,task"`
	ParentID   string `json:"parent_id" minLength:"1"`
	Text       string `json:"text" minLength:"1"`
}

type EditCommentRequest struct {
	Text string `json:"text" minLength:"1"`
}

type AnnouncementRequest struct {
	Title          string   `json:"title" minLength:"1"`
	Body           string   `json:"body" minLength:"1"`
	TargetAudience string   `json:"target_audience,omitempty" enum:"All,Management,Staff,Specific"`
	TargetRoles    []string `json:"target_roles,omitempty"`
	ExpiresAt      string   `json:"expires_at,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at" format:"date-time"`
	Teammate  domain.Teammate `json:"teammate"`
}

type WhoAmIResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Source string `json:"source"`
}

type APIKeyResponse struct {
	Key    string        `json:"key,omitempty"`
	APIKey domain.APIKey `json:"api_key"`
}

// TaskResponse is the wire form of a task. The timer is exposed as its start time, null while
// stopped.
type TaskResponse struct {
	ID                     string                   `json:"id"`
	Title                  string                   `json:"title"`
	Description            string                   `json:"description,omitempty"`
	ProjectID              *string                  `json:"project_id,omitempty"`
	ClientID               *string                  `json:"client_id,omitempty"`
	AssignerID             string                   `json:"assigner_id"`
	AssigneeID             string                   `json:"assignee_id"`
	Status                 domain.TaskStatus        `json:"status" enum:"ToDo,InProgress,UnderReview,RevisionRequired,Completed"`
	Priority               string                   `json:"priority"`
	AllocatedTimeInSeconds int64                    `json:"allocated_time_in_seconds"`
	TimeSpentSeconds       int64                    `json:"time_spent_seconds"`
	TimerStartTime         *string                  `json:"timer_start_time" format:"date-time"`
	DueDate                *string                  `json:"due_date,omitempty"`
	Ratings                domain.Ratings           `json:"ratings"`
	RevisionNote           string                   `json:"revision_note,omitempty"`
	CompletionReport       *domain.CompletionReport `json:"completion_report,omitempty"`
	Archived               bool                     `json:"archived"`
	ArchivedAt             *string                  `json:"archived_at,omitempty"`
	ArchivedBy             *string                  `json:"archived_by,omitempty"`
	CompletedAt            *string                  `json:"completed_at,omitempty"`
	Version                int64                    `json:"version"`
	CreatedAt              string                   `json:"created_at"`
	UpdatedAt              string                   `json:"updated_at"`
}

type TaskOutcomeResponse struct {
	Applied bool                  `json:"applied"`
	Task    TaskResponse          `json:"task"`
	Pending *domain.PendingUpdate `json:"pending,omitempty"`
}

type ChangesResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"next_cursor"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func taskResponse(t domain.Task) TaskResponse {
	var timer *string
	if t.Timer.Running() {
		s := t.Timer.String()
		timer = &s
	}
	return TaskResponse{
		ID:                     t.ID,
		Title:                  t.Title,
		Description:            t.Description,
		ProjectID:              t.ProjectID,
		ClientID:               t.ClientID,
		AssignerID:             t.AssignerID,
		AssigneeID:             t.AssigneeID,
		Status:                 t.Status,
		Priority:               t.Priority,
		AllocatedTimeInSeconds: t.AllocatedTimeInSeconds,
		TimeSpentSeconds:       t.TimeSpentSeconds,
		TimerStartTime:         timer,
		DueDate:                t.DueDate,
		Ratings:                t.Ratings,
		RevisionNote:           t.RevisionNote,
		CompletionReport:       t.Report,
		Archived:               t.Archived,
		ArchivedAt:             t.ArchivedAt,
		ArchivedBy:             t.ArchivedBy,
		CompletedAt:            t.CompletedAt,
		Version:                t.Version,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
