package agencyopssdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/feed"
	"agencyops/internal/migrate"
	"agencyops/internal/server"
)

func newClient(t *testing.T) (*Client, map[string]domain.Teammate) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("sdk-test"))
	team := map[string]domain.Teammate{}
	for name, role := range map[string]string{"ceo": domain.RoleCEO, "dev": "Developer"} {
		tm, err := e.RegisterTeammate(context.Background(), engine.SignupOptions{
			Name: name, Email: name + "@agency.test", Password: "password123",
		}, role, true)
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		team[name] = tm
	}
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/v1"), team
}

func TestSyncTasksMirrorsCreatedTask(t *testing.T) {
	ctx := context.Background()
	c, team := newClient(t)
	if _, err := c.Login(ctx, "ceo@agency.test", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	created, err := c.CreateTask(ctx, "Brochure", team["dev"].ID, "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tasks := feed.Tasks()
	if err := c.SyncTasks(ctx, tasks); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, ok := tasks.Get(created.ID)
	if !ok || got.Title != "Brochure" {
		t.Fatalf("task not mirrored: %+v", got)
	}

	if _, err := c.EditTask(ctx, created.ID, map[string]any{"title": "Brochure v2"}, false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := c.SyncTasks(ctx, tasks); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got, _ := tasks.Get(created.ID); got.Title != "Brochure v2" {
		t.Fatalf("edit not mirrored: %q", got.Title)
	}
}

func TestErrorsCarryEnvelopeCode(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.Login(ctx, "dev@agency.test", "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
