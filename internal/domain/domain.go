package domain

// EntityKind names the entity families that flow through the approval workflow and change feed.
type EntityKind string

const (
	KindTeammate     EntityKind = "teammate"
	KindClient       EntityKind = "client"
	KindProject      EntityKind = "project"
	KindTask         EntityKind = "task"
	KindComment      EntityKind = "comment"
	KindNotification EntityKind = "notification"
	KindPending      EntityKind = "pending_update"
	KindAnnouncement EntityKind = "announcement"
	KindAttendance   EntityKind = "attendance"
)

// Built-in roles. The full role set is configurable; these are the ones the policy names.
const (
	RoleCEO     = "CEO"
	RoleManager = "Manager"
	RoleHR      = "HR"
	RoleSales   = "Sales"
	RoleStaff   = "Staff"
)

type Teammate struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone,omitempty"`
	Role         string  `json:"role"`
	Approved     bool    `json:"approved"`
	Salary       float64 `json:"salary"`
	PasswordHash string  `json:"-"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Client struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type AcceptanceStatus string

const (
	AcceptancePending  AcceptanceStatus = "Pending"
	AcceptanceAccepted AcceptanceStatus = "Accepted"
	AcceptanceExpired  AcceptanceStatus = "Expired"
)

// ProjectAcceptance tracks one member's response to a project assignment.
// Accepted and Expired are terminal.
type ProjectAcceptance struct {
	Status      AcceptanceStatus `json:"status" enum:"Pending,Accepted,Expired"`
	AssignedAt  string           `json:"assigned_at" format:"date-time"`
	RespondedAt string           `json:"responded_at,omitempty" format:"date-time"`
}

// Ratings holds the two rating slots of a task or project. Each value is 1..5 when set.
type Ratings struct {
	Assigner *int `json:"assigner,omitempty"`
	CEO      *int `json:"ceo,omitempty"`
}

const (
	ProjectActive    = "Active"
	ProjectOnHold    = "OnHold"
	ProjectCompleted = "Completed"
)

type Project struct {
	ID                     string                       `json:"id"`
	Name                   string                       `json:"name"`
	Description            string                       `json:"description,omitempty"`
	ClientID               *string                      `json:"client_id,omitempty"`
	AssignerID             string                       `json:"assigner_id"`
	Status                 string                       `json:"status" enum:"Active,OnHold,Completed"`
	Progress               int                          `json:"progress"`
	TeamMemberIDs          []string                     `json:"team_member_ids"`
	Acceptance             map[string]ProjectAcceptance `json:"acceptance"`
	AllocatedTimeInSeconds int64                        `json:"allocated_time_in_seconds"`
	Divisions              []string                     `json:"divisions"`
	Deadline               *string                      `json:"deadline,omitempty" format:"date-time"`
	Ratings                Ratings                      `json:"ratings"`
	Version                int64                        `json:"version"`
	CreatedAt              string                       `json:"created_at" format:"date-time"`
	UpdatedAt              string                       `json:"updated_at" format:"date-time"`
}

// Done reports whether the project counts as finished for rating purposes.
func (p Project) Done() bool {
	return p.Status == ProjectCompleted || p.Progress >= 100
}

func (p Project) HasMember(id string) bool {
	for _, m := range p.TeamMemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskToDo             TaskStatus = "ToDo"
	TaskInProgress       TaskStatus = "InProgress"
	TaskUnderReview      TaskStatus = "UnderReview"
	TaskRevisionRequired TaskStatus = "RevisionRequired"
	TaskCompleted        TaskStatus = "Completed"
)

const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
	PriorityUrgent = "Urgent"
)

// CompletionReport is filed with every submit-for-review.
type CompletionReport struct {
	Accomplishments string `json:"accomplishments"`
	WorkExperience  bool   `json:"work_experience"`
	Suggestions     string `json:"suggestions,omitempty"`
	DriveLink       string `json:"drive_link,omitempty"`
	SubmittedAt     string `json:"submitted_at" format:"date-time"`
}

type Task struct {
	ID                     string            `json:"id"`
	Title                  string            `json:"title"`
	Description            string            `json:"description,omitempty"`
	ProjectID              *string           `json:"project_id,omitempty"`
	ClientID               *string           `json:"client_id,omitempty"`
	AssignerID             string            `json:"assigner_id"`
	AssigneeID             string            `json:"assignee_id"`
	Status                 TaskStatus        `json:"status" enum:"ToDo,InProgress,UnderReview,RevisionRequired,Completed"`
	Priority               string            `json:"priority" enum:"Low,Medium,High,Urgent"`
	AllocatedTimeInSeconds int64             `json:"allocated_time_in_seconds"`
	TimeSpentSeconds       int64             `json:"time_spent_seconds"`
	Timer                  TimerState        `json:"timer_start_time"`
	DueDate                *string           `json:"due_date,omitempty" format:"date-time"`
	Ratings                Ratings           `json:"ratings"`
	RevisionNote           string            `json:"revision_note,omitempty"`
	Report                 *CompletionReport `json:"completion_report,omitempty"`
	Archived               bool              `json:"archived"`
	ArchivedAt             *string           `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy             *string           `json:"archived_by,omitempty"`
	CompletedAt            *string           `json:"completed_at,omitempty" format:"date-time"`
	Version                int64             `json:"version"`
	CreatedAt              string            `json:"created_at" format:"date-time"`
	UpdatedAt              string            `json:"updated_at" format:"date-time"`
}

// Started reports whether any work has been recorded against the task.
func (t Task) Started() bool {
	return t.Status != TaskToDo || t.TimeSpentSeconds > 0 || t.Timer.Running()
}

// Archivable reports whether the archive overlay may be toggled.
func (t Task) Archivable() bool {
	return t.Status == TaskCompleted
}

type Comment struct {
	ID         string     `json:"id"`
	ParentKind EntityKind `json:"parent_kind" enum:"project,task"`
	ParentID   string     `json:"parent_id"`
	AuthorID   string     `json:"author_id"`
	Text       string     `json:"text"`
	ReadBy     []string   `json:"read_by"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	EditedAt   *string    `json:"edited_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PendingStatus string

const (
	PendingOpen     PendingStatus = "pending"
	PendingApproved PendingStatus = "approved"
	PendingRejected PendingStatus = "rejected"
)

// ActionKey marks a non-merge proposal inside PendingUpdate.Data. JustificationKey carries the
// requester's reason; neither is ever merged.
const (
	ActionKey        = "_action"
	ActionDelete     = "delete"
	JustificationKey = "justification"
)

// PendingUpdate is a proposed change awaiting an approver. Resolved records are immutable.
type PendingUpdate struct {
	ID            string         `json:"id"`
	Type          EntityKind     `json:"type" enum:"project,task,teammate"`
	ItemID        string         `json:"item_id"`
	Data          map[string]any `json:"data"`
	OriginalData  map[string]any `json:"original_data"`
	RequestedBy   string         `json:"requested_by"`
	RequesterName string         `json:"requester_name"`
	Status        PendingStatus  `json:"status" enum:"pending,approved,rejected"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	ResolvedAt    *string        `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy    *string        `json:"resolved_by,omitempty"`
}

// IsDelete reports whether the proposal asks for deletion instead of a merge.
func (u PendingUpdate) IsDelete() bool {
	v, ok := u.Data[ActionKey].(string)
	return ok && v == ActionDelete
}

const (
	AudienceAll        = "All"
	AudienceManagement = "Management"
	AudienceStaff      = "Staff"
	AudienceSpecific   = "Specific"
)

type Announcement struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	AuthorID       string   `json:"author_id"`
	TargetAudience string   `json:"target_audience" enum:"All,Management,Staff,Specific"`
	TargetRoles    []string `json:"target_roles,omitempty"`
	ViewedBy       []string `json:"viewed_by"`
	ExpiresAt      *string  `json:"expires_at,omitempty" format:"date-time"`
	IsActive       bool     `json:"is_active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Attendance struct {
	ID            string  `json:"id"`
	TeammateID    string  `json:"teammate_id"`
	Day           string  `json:"day"`
	CheckInAt     string  `json:"check_in_at" format:"date-time"`
	CheckOutAt    *string `json:"check_out_at,omitempty" format:"date-time"`
	WorkedSeconds int64   `json:"worked_seconds"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates integrations as a teammate. Only the hash is stored.
type APIKey struct {
	ID         string  `json:"id"`
	TeammateID string  `json:"teammate_id"`
	Name       string  `json:"name,omitempty"`
	KeyHash    string  `json:"-"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}
