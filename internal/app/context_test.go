package app

import (
	"context"
	"os"
	"testing"

	"agencyops/internal/config"
	"agencyops/internal/domain"
)

func open(t *testing.T, workspace string) *App {
	t.Helper()
	a, err := Open(context.Background(), Options{Workspace: workspace, LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenSeedsDefaultConfig(t *testing.T) {
	workspace := t.TempDir()
	a := open(t, workspace)
	if a.Config.Org.ID != defaultOrgID || a.Config.ApproverRole() != domain.RoleCEO {
		t.Fatalf("unexpected seeded config %+v", a.Config)
	}
	stored, err := a.Engine.Repo.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("config not stored: %v", err)
	}
	if stored.Org.ID != defaultOrgID {
		t.Fatalf("stored org %q", stored.Org.ID)
	}
}

func TestOpenImportsWorkspaceFileOnce(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault("acme")), 0o644); err != nil {
		t.Fatal(err)
	}
	a := open(t, workspace)
	if a.Config.Org.ID != "acme" {
		t.Fatalf("workspace file not imported, org %q", a.Config.Org.ID)
	}
	a.Close()

	// later edits to the file need an explicit import
	if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault("other")), 0o644); err != nil {
		t.Fatal(err)
	}
	b := open(t, workspace)
	if b.Config.Org.ID != "acme" {
		t.Fatalf("stored config should win, got org %q", b.Config.Org.ID)
	}
}

func TestEnsureOwner(t *testing.T) {
	a := open(t, t.TempDir())
	ctx := context.Background()
	if _, err := a.EnsureOwner(ctx, Owner{}); err == nil {
		t.Fatalf("empty workspace without owner credentials should fail")
	}
	created, err := a.EnsureOwner(ctx, Owner{Email: "Boss@Agency.test", Password: "password123"})
	if err != nil || !created {
		t.Fatalf("owner not created: %v", err)
	}
	tm, err := a.Engine.Authenticate(ctx, "boss@agency.test", "password123")
	if err != nil {
		t.Fatalf("owner cannot log in: %v", err)
	}
	if tm.Role != domain.RoleCEO || !tm.Approved || tm.Name != "Owner" {
		t.Fatalf("unexpected owner %+v", tm)
	}
	created, err = a.EnsureOwner(ctx, Owner{})
	if err != nil || created {
		t.Fatalf("second call should be a no-op: %v %v", created, err)
	}
}
