package agencyopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agencyops/internal/domain"
	"agencyops/internal/feed"
)

// Client is a minimal AgencyOps HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g.
// http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when the
// server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Page wraps list responses with cursors.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Changes is one batch of the change feed.
type Changes struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"next_cursor"`
}

// TaskOutcome reports whether an edit was applied or queued for approval.
type TaskOutcome struct {
	Applied bool                  `json:"applied"`
	Task    domain.Task           `json:"task"`
	Pending *domain.PendingUpdate `json:"pending,omitempty"`
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Teammate, error) {
	var resp struct {
		Token    string          `json:"token"`
		Teammate domain.Teammate `json:"teammate"`
	}
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"email": email, "password": password}, &resp)
	if err != nil {
		return domain.Teammate{}, err
	}
	c.BearerToken = resp.Token
	return resp.Teammate, nil
}

// CreateTask creates a task assigned to assigneeID.
func (c *Client) CreateTask(ctx context.Context, title, assigneeID, projectID string) (domain.Task, error) {
	body := map[string]any{
		"title":       title,
		"assignee_id": assigneeID,
	}
	if projectID != "" {
		body["project_id"] = projectID
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TasksPage returns one page of tasks, newest first.
func (c *Client) TasksPage(ctx context.Context, limit int, cursor string) (Page[domain.Task], error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp Page[domain.Task]
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

// EditTask applies patch to a task, or proposes it when the caller may not edit directly.
func (c *Client) EditTask(ctx context.Context, id string, patch map[string]any, embedded bool) (TaskOutcome, error) {
	endpoint := "tasks/" + url.PathEscape(id)
	if embedded {
		endpoint += "?embedded=true"
	}
	var resp TaskOutcome
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

// TaskAction runs a lifecycle action without a body: start, pause, resume, approve, archive or
// unarchive.
func (c *Client) TaskAction(ctx context.Context, id, action string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/%s", url.PathEscape(id), url.PathEscape(action)), nil, &resp)
	return resp, err
}

func (c *Client) SubmitTask(ctx context.Context, id, accomplishments, driveLink string) (domain.Task, error) {
	body := map[string]any{"accomplishments": accomplishments}
	if driveLink != "" {
		body["drive_link"] = driveLink
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/submit", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Approvals lists pending updates with the given status.
func (c *Client) Approvals(ctx context.Context, status string) ([]domain.PendingUpdate, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp Page[domain.PendingUpdate]
	err := c.do(ctx, http.MethodGet, withQuery("approvals", q), nil, &resp)
	return resp.Items, err
}

// Resolve approves or rejects a pending update.
func (c *Client) Resolve(ctx context.Context, id string, approve bool) (domain.PendingUpdate, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	var resp domain.PendingUpdate
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("approvals/%s/%s", url.PathEscape(id), action), nil, &resp)
	return resp, err
}

// Notifications returns the caller's notifications, newest first.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]domain.Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var resp Page[domain.Notification]
	err := c.do(ctx, http.MethodGet, withQuery("notifications", q), nil, &resp)
	return resp.Items, err
}

// Changes returns committed transitions after cursor.
func (c *Client) Changes(ctx context.Context, cursor int64, limit int) (Changes, error) {
	q := url.Values{}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp Changes
	err := c.do(ctx, http.MethodGet, withQuery("changes", q), nil, &resp)
	return resp, err
}

// Sync pulls the change feed into the mirrors until it is drained and returns the new cursor.
// Every mirror sees every event, so one pass keeps tasks, comments and notifications in step.
func (c *Client) Sync(ctx context.Context, cursor int64, mirrors ...interface {
	ApplyAll([]domain.Event) error
}) (int64, error) {
	for {
		batch, err := c.Changes(ctx, cursor, 0)
		if err != nil {
			return cursor, err
		}
		for _, m := range mirrors {
			if err := m.ApplyAll(batch.Items); err != nil {
				return cursor, err
			}
		}
		if batch.NextCursor <= cursor {
			return cursor, nil
		}
		cursor = batch.NextCursor
	}
}

// SyncTasks brings a task mirror up to date.
func (c *Client) SyncTasks(ctx context.Context, m *feed.Mirror[domain.Task]) error {
	cursor, err := c.Sync(ctx, m.Cursor(), m)
	m.SkipTo(cursor)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
