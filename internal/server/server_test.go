package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/migrate"
)

const testPassword = "correct-horse"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
	team   map[string]domain.Teammate
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("agencyops-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	team := map[string]domain.Teammate{}
	for _, m := range []struct{ name, role string }{
		{"Cora", domain.RoleCEO},
		{"Milo", domain.RoleManager},
		{"Dana", "Developer"},
	} {
		tm, err := e.RegisterTeammate(context.Background(), engine.SignupOptions{
			Name:     m.name,
			Email:    m.name + "@agency.test",
			Password: testPassword,
		}, m.role, true)
		if err != nil {
			t.Fatalf("seed %s: %v", m.name, err)
		}
		team[m.name] = tm
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		team:   team,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// login returns bearer headers for a seeded teammate.
func (s *testServer) login(t *testing.T, name string) map[string]string {
	t.Helper()
	res, body := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/login", map[string]any{
		"email":    name + "@agency.test",
		"password": testPassword,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s status %d: %s", name, res.StatusCode, string(body))
	}
	var out LoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("empty token for %s", name)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func decodeError(t *testing.T, body []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(body))
	}
	return env.Error
}

func TestHealthIsPublicAndEverythingElseIsNot(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	if e := decodeError(t, body); e.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", e.Code)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d: %s", res.StatusCode, string(body))
	}
}

func TestLoginAndWhoAmI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "Dana@agency.test",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	if e := decodeError(t, body); e.Code != "invalid_credentials" {
		t.Fatalf("unexpected code %q", e.Code)
	}

	headers := srv.login(t, "Dana")
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != srv.team["Dana"].ID || me.Role != "Developer" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestSignupAwaitsApproval(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"name":     "Nora",
		"email":    "nora@agency.test",
		"password": "long-enough",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup status %d: %s", res.StatusCode, string(body))
	}
	var nora domain.Teammate
	if err := json.Unmarshal(body, &nora); err != nil {
		t.Fatalf("unmarshal teammate: %v", err)
	}
	if nora.Approved || nora.Role != "Staff" {
		t.Fatalf("signup should be unapproved Staff: %+v", nora)
	}

	creds := map[string]any{"email": "nora@agency.test", "password": "long-enough"}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", creds, nil)
	if res.StatusCode != http.StatusForbidden || decodeError(t, body).Code != "not_approved" {
		t.Fatalf("expected 403 not_approved, got %d: %s", res.StatusCode, string(body))
	}

	dev := srv.login(t, "Dana")
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/teammates/"+nora.ID+"/approve", nil, dev)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("developer approval should be forbidden, got %d: %s", res.StatusCode, string(body))
	}
	ceo := srv.login(t, "Cora")
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/teammates/"+nora.ID+"/approve", nil, ceo)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", creds, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login after approval status %d: %s", res.StatusCode, string(body))
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	mgr := srv.login(t, "Milo")
	dev := srv.login(t, "Dana")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Landing page",
		"assignee_id": srv.team["Dana"].ID,
		"priority":    "High",
	}, mgr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(body))
	}
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != domain.TaskToDo || task.TimerStartTime != nil {
		t.Fatalf("unexpected new task %+v", task)
	}
	base := srv.URL + "/v1/tasks/" + task.ID

	res, body = doJSON(t, client, http.MethodPost, base+"/approve", nil, mgr)
	if res.StatusCode != http.StatusConflict || decodeError(t, body).Code != "invalid_transition" {
		t.Fatalf("approving a ToDo task should be 409 invalid_transition, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, base+"/start", nil, mgr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("only the assignee starts work, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/start", nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(body))
	}
	json.Unmarshal(body, &task)
	if task.Status != domain.TaskInProgress || task.TimerStartTime == nil {
		t.Fatalf("start should run the timer: %+v", task)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/submit", map[string]any{
		"accomplishments": "Hero and pricing sections",
	}, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(body))
	}
	json.Unmarshal(body, &task)
	if task.Status != domain.TaskUnderReview || task.TimerStartTime != nil || task.CompletionReport == nil {
		t.Fatalf("submit should stop the timer and file the report: %+v", task)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/approve", nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, base+"/rate", map[string]any{"slot": "assigner", "value": 4}, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rate status %d: %s", res.StatusCode, string(body))
	}
	json.Unmarshal(body, &task)
	if task.Status != domain.TaskCompleted || task.Ratings.Assigner == nil || *task.Ratings.Assigner != 4 {
		t.Fatalf("unexpected rated task %+v", task)
	}
	res, body = doJSON(t, client, http.MethodPost, base+"/rate", map[string]any{"slot": "assigner", "value": 9}, mgr)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range rating should be 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestProposedEditNeedsApproval(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	mgr := srv.login(t, "Milo")
	dev := srv.login(t, "Dana")
	ceo := srv.login(t, "Cora")

	_, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Logo",
		"assignee_id": srv.team["Dana"].ID,
	}, mgr)
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"title": "Logo v2"}, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(body))
	}
	var outcome TaskOutcomeResponse
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.Applied || outcome.Pending == nil || outcome.Task.Title != "Logo" {
		t.Fatalf("assignee edit should be proposed: %+v", outcome)
	}

	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"title": "Logo v3"}, dev)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second live proposal should conflict, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals/"+outcome.Pending.ID, nil, mgr)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("another teammate's request should be hidden, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals/"+outcome.Pending.ID, nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("requester reads own request, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/approvals/"+outcome.Pending.ID+"/approve", nil, mgr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("manager cannot resolve, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/approvals/"+outcome.Pending.ID+"/approve", nil, ceo)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(body))
	}
	json.Unmarshal(body, &task)
	if task.Title != "Logo v2" {
		t.Fatalf("approved title not applied: %q", task.Title)
	}

	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"title": "Logo v2"}, mgr)
	if res.StatusCode != http.StatusBadRequest || decodeError(t, body).Code != "no_change" {
		t.Fatalf("identical edit should be 400 no_change, got %d: %s", res.StatusCode, string(body))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	dev := srv.login(t, "Dana")

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/missing", nil, dev)
	if res.StatusCode != http.StatusNotFound || decodeError(t, body).Code != "not_found" {
		t.Fatalf("expected 404 not_found, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/clients", map[string]any{"name": "Acme"}, dev)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
	e := decodeError(t, body)
	if e.Code != "forbidden" || e.Details["permission"] == nil {
		t.Fatalf("forbidden envelope should name the permission: %+v", e)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "No assignee"}, dev)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("schema violation should be 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	dev := srv.login(t, "Dana")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/me/api-keys", map[string]any{"name": "ci"}, dev)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(body))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	keyHeader := map[string]string{"X-Api-Key": created.Key}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, keyHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via key status %d: %s", res.StatusCode, string(body))
	}
	var me WhoAmIResponse
	json.Unmarshal(body, &me)
	if me.ID != srv.team["Dana"].ID || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/me/api-keys/"+created.APIKey.ID, nil, dev)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, keyHeader)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key still works: %d", res.StatusCode)
	}
}

func TestTaskListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	mgr := srv.login(t, "Milo")
	for _, title := range []string{"One", "Two", "Three"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
			"title":       title,
			"assignee_id": srv.team["Dana"].ID,
		}, mgr)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s status %d: %s", title, res.StatusCode, string(body))
		}
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?limit=2", nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var page Paginated[TaskResponse]
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %d items, cursor %q", len(page.Items), page.NextCursor)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/tasks", nil)
	q := req.URL.Query()
	q.Set("limit", "2")
	q.Set("cursor", page.NextCursor)
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?"+q.Encode(), nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(body))
	}
	var next Paginated[TaskResponse]
	json.Unmarshal(body, &next)
	if len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("second page: %d items, cursor %q", len(next.Items), next.NextCursor)
	}
	seen := map[string]bool{}
	for _, it := range append(page.Items, next.Items...) {
		seen[it.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("pages overlap or skip rows: %v", seen)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?cursor=garbage", nil, mgr)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor should be 400, got %d: %s", res.StatusCode, string(body))
	}

	// Dana was notified once per assignment.
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications?limit=2", nil, srv.login(t, "Dana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(body))
	}
	var inbox Paginated[domain.Notification]
	if err := json.Unmarshal(body, &inbox); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(inbox.Items) != 2 || inbox.NextCursor == "" {
		t.Fatalf("notifications page: %d items, cursor %q", len(inbox.Items), inbox.NextCursor)
	}
}

func TestChangeFeedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	mgr := srv.login(t, "Milo")
	dev := srv.login(t, "Dana")
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Feed me",
		"assignee_id": srv.team["Dana"].ID,
	}, mgr)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/changes", nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes status %d: %s", res.StatusCode, string(body))
	}
	var feed ChangesResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		t.Fatalf("unmarshal changes: %v", err)
	}
	if len(feed.Items) == 0 || feed.NextCursor == 0 {
		t.Fatalf("expected events, got %+v", feed)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/changes?cursor="+itoa(feed.NextCursor), nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes status %d: %s", res.StatusCode, string(body))
	}
	var rest ChangesResponse
	json.Unmarshal(body, &rest)
	if len(rest.Items) != 0 || rest.NextCursor != feed.NextCursor {
		t.Fatalf("feed should be drained: %+v", rest)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestTeammateSalaryVisibility(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	dana := srv.team["Dana"].ID

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/teammates/"+dana, map[string]any{"salary": 4200}, srv.login(t, "Cora"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set salary status %d: %s", res.StatusCode, string(body))
	}
	for name, want := range map[string]float64{"Milo": 0, "Dana": 4200, "Cora": 4200} {
		res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/teammates/"+dana, nil, srv.login(t, name))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s get status %d: %s", name, res.StatusCode, string(body))
		}
		var tm domain.Teammate
		if err := json.Unmarshal(body, &tm); err != nil {
			t.Fatalf("unmarshal teammate: %v", err)
		}
		if tm.Salary != want {
			t.Fatalf("%s sees salary %v, want %v", name, tm.Salary, want)
		}
	}
}
