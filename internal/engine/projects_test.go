package engine_test

import (
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"agencyops/internal/domain"
	"agencyops/internal/engine"
)

func TestCreateProjectSeedsAcceptance(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, env.Dev, engine.CreateProjectOptions{Name: "nope"}); !isForbidden(err) {
		t.Fatalf("non-management create should be forbidden, got %v", err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{
		Name:          "Spring launch",
		TeamMemberIDs: []string{env.Dev.ID, env.Designer.ID, env.Dev.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.TeamMemberIDs) != 2 {
		t.Fatalf("members should be deduplicated: %v", p.TeamMemberIDs)
	}
	for _, id := range p.TeamMemberIDs {
		a := p.Acceptance[id]
		if a.Status != domain.AcceptancePending || a.AssignedAt != t0.Format(time.RFC3339) {
			t.Fatalf("member %s acceptance %+v", id, a)
		}
	}
	if len(env.Inbox.For(env.Dev.ID)) != 1 || len(env.Inbox.For(env.Designer.ID)) != 1 {
		t.Fatalf("members should be told: %+v", env.Inbox.Messages())
	}
}

func TestAcceptanceExpiresOnceAndNotifiesCEO(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{
		Name:          "Trade show",
		TeamMemberIDs: []string{env.Dev.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.Inbox.Reset()

	env.advance(8*time.Hour - time.Second)
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Acceptance[env.Dev.ID].Status != domain.AcceptancePending {
		t.Fatalf("expired too early")
	}

	env.advance(time.Second)
	got, err = env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Acceptance[env.Dev.ID].Status != domain.AcceptanceExpired {
		t.Fatalf("expected Expired, got %+v", got.Acceptance[env.Dev.ID])
	}
	if _, err := env.Engine.GetProject(env.Ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ListProjects(env.Ctx, engine.ProjectFilters{}); err != nil {
		t.Fatal(err)
	}
	if n := len(env.Inbox.For(env.CEO.ID)); n != 1 {
		t.Fatalf("CEO should be told exactly once, got %d", n)
	}

	_, err = env.Engine.AcceptAssignment(env.Ctx, env.Dev, p.ID)
	if !errors.Is(err, engine.ErrAssignmentExpired) {
		t.Fatalf("accept after expiry: %v", err)
	}
	got, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if got.Acceptance[env.Dev.ID].Status != domain.AcceptanceExpired {
		t.Fatalf("accept resurrected an expired entry")
	}
	if n := len(env.Inbox.For(env.CEO.ID)); n != 1 {
		t.Fatalf("CEO told again: %d", n)
	}
}

func TestAcceptWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{
		Name:          "Annual report",
		TeamMemberIDs: []string{env.Dev.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptAssignment(env.Ctx, env.Designer, p.ID); !isForbidden(err) {
		t.Fatalf("non-member accept should be forbidden, got %v", err)
	}
	env.advance(time.Hour)
	env.Inbox.Reset()
	got, err := env.Engine.AcceptAssignment(env.Ctx, env.Dev, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	a := got.Acceptance[env.Dev.ID]
	if a.Status != domain.AcceptanceAccepted || a.RespondedAt != t0.Add(time.Hour).Format(time.RFC3339) {
		t.Fatalf("unexpected acceptance %+v", a)
	}
	if len(env.Inbox.For(env.Manager.ID)) != 1 {
		t.Fatalf("assigner should be told")
	}
	env.advance(24 * time.Hour)
	again, err := env.Engine.AcceptAssignment(env.Ctx, env.Dev, p.ID)
	if err != nil || again.Acceptance[env.Dev.ID].Status != domain.AcceptanceAccepted {
		t.Fatalf("accepting twice is a no-op: %v", err)
	}
}

func TestLateAcceptExpiresAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{
		Name:          "Packaging",
		TeamMemberIDs: []string{env.Dev.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.Inbox.Reset()
	env.advance(9 * time.Hour)
	_, err = env.Engine.AcceptAssignment(env.Ctx, env.Dev, p.ID)
	if !isValidation(err) || !errors.Is(err, engine.ErrAssignmentExpired) {
		t.Fatalf("late accept: %v", err)
	}
	got, _ := env.Engine.GetProject(env.Ctx, p.ID)
	if got.Acceptance[env.Dev.ID].Status != domain.AcceptanceExpired {
		t.Fatalf("late accept should persist the expiry")
	}
	if n := len(env.Inbox.For(env.CEO.ID)); n != 1 {
		t.Fatalf("CEO told %d times", n)
	}
}

func TestSweepAcceptance(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"a", "b"} {
		if _, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{
			Name:          name,
			TeamMemberIDs: []string{env.Dev.ID, env.Designer.ID},
		}); err != nil {
			t.Fatal(err)
		}
	}
	env.advance(8 * time.Hour)
	n, err := env.Engine.SweepAcceptance(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected 4 expired entries, got %d", n)
	}
	if n, _ := env.Engine.SweepAcceptance(env.Ctx); n != 0 {
		t.Fatalf("second sweep expired %d", n)
	}
}

func TestProjectApprovalReconcilesMembers(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.CEO, engine.CreateProjectOptions{
		Name:          "Website",
		TeamMemberIDs: []string{env.Dev.ID, env.Designer.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptAssignment(env.Ctx, env.Designer, p.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := env.Engine.GetProject(env.Ctx, p.ID)
	kept := before.Acceptance[env.Designer.ID]

	out, err := env.Engine.PatchProject(env.Ctx, env.Manager, p.ID, map[string]any{
		"team_member_ids": []string{env.Designer.ID, env.Manager.ID},
		"description":     "new scope",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied || out.Pending == nil {
		t.Fatalf("non-CEO project edit must be proposed: %+v", out)
	}
	live, _ := env.Engine.GetProject(env.Ctx, p.ID)
	if !reflect.DeepEqual(live.TeamMemberIDs, before.TeamMemberIDs) {
		t.Fatalf("proposal changed the project")
	}

	env.advance(time.Hour)
	env.Inbox.Reset()
	if _, err := env.Engine.Approve(env.Ctx, env.CEO, out.Pending.ID); err != nil {
		t.Fatal(err)
	}
	after, _ := env.Engine.GetProject(env.Ctx, p.ID)
	members := append([]string(nil), after.TeamMemberIDs...)
	sort.Strings(members)
	want := []string{env.Designer.ID, env.Manager.ID}
	sort.Strings(want)
	if !reflect.DeepEqual(members, want) {
		t.Fatalf("members %v, want %v", members, want)
	}
	added := after.Acceptance[env.Manager.ID]
	if added.Status != domain.AcceptancePending || added.AssignedAt != t0.Add(time.Hour).Format(time.RFC3339) {
		t.Fatalf("added member acceptance %+v", added)
	}
	if _, ok := after.Acceptance[env.Dev.ID]; ok {
		t.Fatalf("removed member kept an acceptance entry")
	}
	if !reflect.DeepEqual(after.Acceptance[env.Designer.ID], kept) {
		t.Fatalf("untouched member changed: %+v vs %+v", after.Acceptance[env.Designer.ID], kept)
	}
	if after.Description != "new scope" {
		t.Fatalf("other fields not merged")
	}
	if len(env.Inbox.For(env.Manager.ID)) != 2 {
		// the resolution message and the assignment message
		t.Fatalf("added requester should get both messages: %+v", env.Inbox.For(env.Manager.ID))
	}
}

func TestReaddedMemberGetsFreshEntry(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.CEO, engine.CreateProjectOptions{
		Name:          "Podcast",
		TeamMemberIDs: []string{env.Dev.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.advance(9 * time.Hour)
	if _, err := env.Engine.GetProject(env.Ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.PatchProject(env.Ctx, env.CEO, p.ID, map[string]any{"team_member_ids": []string{}}); err != nil {
		t.Fatal(err)
	}
	out, err := env.Engine.PatchProject(env.Ctx, env.CEO, p.ID, map[string]any{"team_member_ids": []string{env.Dev.ID}})
	if err != nil || !out.Applied {
		t.Fatalf("re-add: %+v %v", out, err)
	}
	a := out.Project.Acceptance[env.Dev.ID]
	if a.Status != domain.AcceptancePending || a.AssignedAt != t0.Add(9*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expected a fresh Pending entry, got %+v", a)
	}
}

func TestProjectEditValidation(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.CEO, engine.CreateProjectOptions{Name: "Event"})
	if err != nil {
		t.Fatal(err)
	}
	cases := []map[string]any{
		{"progress": 101},
		{"status": "Archived"},
		{"name": ""},
		{"team_member_ids": []string{"ghost"}},
	}
	for _, patch := range cases {
		if _, err := env.Engine.PatchProject(env.Ctx, env.CEO, p.ID, patch); !isValidation(err) {
			t.Fatalf("patch %v: expected validation error, got %v", patch, err)
		}
	}
	stale := p
	stale.Name = "Event 2"
	stale.Version = p.Version + 5
	if _, err := env.Engine.EditProject(env.Ctx, env.CEO, stale); !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("stale edit should conflict, got %v", err)
	}
}

func TestProjectRating(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Manager, engine.CreateProjectOptions{Name: "Mural"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RateProject(env.Ctx, env.Manager, p.ID, "assigner", 5); !isValidation(err) {
		t.Fatalf("rating an unfinished project should fail, got %v", err)
	}
	if _, err := env.Engine.PatchProject(env.Ctx, env.CEO, p.ID, map[string]any{"progress": 100}); err != nil {
		t.Fatal(err)
	}
	rated, err := env.Engine.RateProject(env.Ctx, env.Manager, p.ID, "assigner", 5)
	if err != nil {
		t.Fatal(err)
	}
	if rated.Ratings.Assigner == nil || *rated.Ratings.Assigner != 5 {
		t.Fatalf("unexpected ratings %+v", rated.Ratings)
	}
	if _, err := env.Engine.RateProject(env.Ctx, env.Dev, p.ID, "ceo", 5); !isForbidden(err) {
		t.Fatalf("non-CEO ceo slot should be forbidden, got %v", err)
	}
}
