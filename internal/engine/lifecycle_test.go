package engine_test

import (
	"errors"
	"testing"
	"time"

	"agencyops/internal/domain"
	"agencyops/internal/engine"
)

func TestPauseFoldsElapsedTime(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Illustration")

	if _, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID); err != nil {
		t.Fatal(err)
	}
	env.advance(600 * time.Second)
	paused, err := env.Engine.PauseTask(env.Ctx, env.Dev, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.TimeSpentSeconds != 600 {
		t.Fatalf("expected 600s, got %d", paused.TimeSpentSeconds)
	}

	if _, err := env.Engine.ResumeTask(env.Ctx, env.Dev, task.ID); err != nil {
		t.Fatal(err)
	}
	env.advance(120 * time.Second)
	paused, err = env.Engine.PauseTask(env.Ctx, env.Dev, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.TimeSpentSeconds != 720 || paused.Timer.Running() {
		t.Fatalf("expected 720s and stopped timer, got %d running=%v", paused.TimeSpentSeconds, paused.Timer.Running())
	}
	if paused.AllocatedTimeInSeconds != 3600 {
		t.Fatalf("allocation changed")
	}

	again, err := env.Engine.PauseTask(env.Ctx, env.Dev, task.ID)
	if err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if again.TimeSpentSeconds != 720 || again.Version != paused.Version {
		t.Fatalf("second pause changed the task: %+v", again)
	}
}

func TestStartRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Video")

	if _, err := env.Engine.StartTask(env.Ctx, env.Manager, task.ID); !isForbidden(err) {
		t.Fatalf("only the assignee runs the timer, got %v", err)
	}
	started, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if started.Status != domain.TaskInProgress || !started.Timer.Running() {
		t.Fatalf("unexpected start state %+v", started)
	}
	since, _ := started.Timer.Since()
	if !since.Equal(t0) {
		t.Fatalf("timer should start at now, got %v", since)
	}
	again, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID)
	if err != nil || again.Version != started.Version {
		t.Fatalf("starting a running task is a no-op: %v", err)
	}
}

func TestSubmitReviewCycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Campaign")
	if _, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID); err != nil {
		t.Fatal(err)
	}
	env.advance(30 * time.Minute)

	if _, err := env.Engine.SubmitTask(env.Ctx, env.Dev, task.ID, engine.SubmitOptions{}); !isValidation(err) {
		t.Fatalf("submit without report should fail validation, got %v", err)
	}
	env.Inbox.Reset()
	submitted, err := env.Engine.SubmitTask(env.Ctx, env.Dev, task.ID, engine.SubmitOptions{
		Accomplishments: "Drafted the campaign",
		WorkExperience:  true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.TaskUnderReview || submitted.TimeSpentSeconds != 1800 || submitted.Timer.Running() {
		t.Fatalf("unexpected submitted state %+v", submitted)
	}
	if submitted.Report == nil || submitted.Report.Accomplishments != "Drafted the campaign" {
		t.Fatalf("report not stored")
	}
	if len(env.Inbox.For(env.Manager.ID)) != 1 || len(env.Inbox.For(env.CEO.ID)) != 1 {
		t.Fatalf("reviewers not notified: %+v", env.Inbox.Messages())
	}

	env.advance(10 * time.Minute)
	_, err = env.Engine.SubmitTask(env.Ctx, env.Dev, task.ID, engine.SubmitOptions{Accomplishments: "again"})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("duplicate submit should be rejected, got %v", err)
	}
	live, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if live.TimeSpentSeconds != 1800 {
		t.Fatalf("duplicate submit double counted: %d", live.TimeSpentSeconds)
	}

	env.Inbox.Reset()
	revised, err := env.Engine.RequestRevision(env.Ctx, env.Manager, task.ID, "")
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if revised.Status != domain.TaskRevisionRequired || revised.RevisionNote != "Please revise and resubmit." {
		t.Fatalf("unexpected revision state %+v", revised)
	}
	if len(env.Inbox.For(env.Manager.ID)) != 0 {
		t.Fatalf("actor notified about own revision request")
	}
	if len(env.Inbox.For(env.Dev.ID)) != 1 || len(env.Inbox.For(env.CEO.ID)) != 1 {
		t.Fatalf("assignee and CEO should be told once each: %+v", env.Inbox.Messages())
	}

	// resubmission straight from RevisionRequired
	resubmitted, err := env.Engine.SubmitTask(env.Ctx, env.Dev, task.ID, engine.SubmitOptions{Accomplishments: "Reworked"})
	if err != nil || resubmitted.Status != domain.TaskUnderReview {
		t.Fatalf("resubmit: %+v %v", resubmitted, err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, env.Designer, task.ID); !isForbidden(err) {
		t.Fatalf("non-reviewer approve should be forbidden, got %v", err)
	}
	done, err := env.Engine.ApproveTask(env.Ctx, env.Manager, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed state %+v", done)
	}
}

func TestRevisionRequestByCEONotifiesAssignerOnce(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Catalog")
	if _, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitTask(env.Ctx, env.Dev, task.ID, engine.SubmitOptions{Accomplishments: "done"}); err != nil {
		t.Fatal(err)
	}
	env.Inbox.Reset()
	if _, err := env.Engine.RequestRevision(env.Ctx, env.CEO, task.ID, "Fix the colors"); err != nil {
		t.Fatal(err)
	}
	if len(env.Inbox.For(env.CEO.ID)) != 0 {
		t.Fatalf("CEO notified about own action")
	}
	if len(env.Inbox.For(env.Manager.ID)) != 1 || len(env.Inbox.For(env.Dev.ID)) != 1 {
		t.Fatalf("unexpected recipients: %+v", env.Inbox.Messages())
	}
}

func TestArchiveOnlyCompleted(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Report")
	if _, err := env.Engine.ArchiveTask(env.Ctx, env.Manager, task.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("archiving an open task should fail, got %v", err)
	}
	completeTask(t, env, task.ID)

	archived, err := env.Engine.ArchiveTask(env.Ctx, env.Manager, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !archived.Archived || archived.ArchivedBy == nil || *archived.ArchivedBy != env.Manager.ID || archived.Status != domain.TaskCompleted {
		t.Fatalf("unexpected archive state %+v", archived)
	}
	again, err := env.Engine.ArchiveTask(env.Ctx, env.Manager, task.ID)
	if err != nil || again.Version != archived.Version {
		t.Fatalf("second archive should be a no-op: %v", err)
	}
	restored, err := env.Engine.UnarchiveTask(env.Ctx, env.Dev, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Archived || restored.ArchivedAt != nil || restored.Status != domain.TaskCompleted {
		t.Fatalf("unexpected unarchive state %+v", restored)
	}
}

func completeTask(t *testing.T, env *testEnv, id string) domain.Task {
	t.Helper()
	if _, err := env.Engine.StartTask(env.Ctx, env.Dev, id); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitTask(env.Ctx, env.Dev, id, engine.SubmitOptions{Accomplishments: "shipped"}); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.ApproveTask(env.Ctx, env.Manager, id)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestRatingRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, env.Manager, env.Dev, "Mascot")
	if _, err := env.Engine.RateTask(env.Ctx, env.Manager, task.ID, "assigner", 4); !isValidation(err) {
		t.Fatalf("rating an open task should fail, got %v", err)
	}
	completeTask(t, env, task.ID)

	if _, err := env.Engine.RateTask(env.Ctx, env.Dev, task.ID, "assigner", 4); !isForbidden(err) {
		t.Fatalf("assignee cannot fill the assigner slot, got %v", err)
	}
	if _, err := env.Engine.RateTask(env.Ctx, env.Manager, task.ID, "ceo", 4); !isForbidden(err) {
		t.Fatalf("manager cannot fill the CEO slot, got %v", err)
	}
	if _, err := env.Engine.RateTask(env.Ctx, env.Manager, task.ID, "assigner", 6); !isValidation(err) {
		t.Fatalf("out of range rating should fail, got %v", err)
	}
	env.Inbox.Reset()
	rated, err := env.Engine.RateTask(env.Ctx, env.Manager, task.ID, "assigner", 4)
	if err != nil {
		t.Fatal(err)
	}
	if rated.Ratings.Assigner == nil || *rated.Ratings.Assigner != 4 || rated.Ratings.CEO != nil {
		t.Fatalf("unexpected ratings %+v", rated.Ratings)
	}
	msgs := env.Inbox.Messages()
	if len(msgs) != 1 || msgs[0].UserID != env.Manager.ID {
		t.Fatalf("only the rater is told: %+v", msgs)
	}
	rated, err = env.Engine.RateTask(env.Ctx, env.CEO, task.ID, "ceo", 5)
	if err != nil || *rated.Ratings.CEO != 5 || *rated.Ratings.Assigner != 4 {
		t.Fatalf("ceo rating: %+v %v", rated.Ratings, err)
	}
	pending, _ := env.Engine.ListPending(env.Ctx, env.CEO, engine.PendingFilters{})
	if len(pending) != 0 {
		t.Fatalf("ratings must not create proposals")
	}
}

func TestTaskBudgetAgainstProject(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.CEO, engine.CreateProjectOptions{
		Name:                   "Rebrand",
		TeamMemberIDs:          []string{env.Dev.ID},
		AllocatedTimeInSeconds: 7200,
	})
	if err != nil {
		t.Fatal(err)
	}
	create := func(secs int64) (domain.Task, error) {
		return env.Engine.CreateTask(env.Ctx, env.Manager, engine.CreateTaskOptions{
			Title: "part", AssigneeID: env.Dev.ID, ProjectID: p.ID, AllocatedTimeInSeconds: secs,
		})
	}
	first, err := create(5000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := create(3000); !isValidation(err) {
		t.Fatalf("over budget task should fail, got %v", err)
	}
	if _, err := create(2200); err != nil {
		t.Fatalf("task filling the budget: %v", err)
	}
	_, err = env.Engine.PatchTask(env.Ctx, env.CEO, first.ID, map[string]any{"allocated_time_in_seconds": 5001}, engine.EditStandalone)
	if !isValidation(err) {
		t.Fatalf("edit over budget should fail, got %v", err)
	}
	if _, err := env.Engine.PatchProject(env.Ctx, env.CEO, p.ID, map[string]any{"allocated_time_in_seconds": 3600}); !isValidation(err) {
		t.Fatalf("shrinking the project below its tasks should fail, got %v", err)
	}
}

func TestApprovalRechecksProjectBudget(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.CEO, engine.CreateProjectOptions{
		Name:                   "Catalogue",
		TeamMemberIDs:          []string{env.Dev.ID},
		AllocatedTimeInSeconds: 3600,
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, title := range []string{"cover", "index"} {
		task, err := env.Engine.CreateTask(env.Ctx, env.Manager, engine.CreateTaskOptions{
			Title: title, AssigneeID: env.Dev.ID, ProjectID: p.ID, AllocatedTimeInSeconds: 1000,
		})
		if err != nil {
			t.Fatal(err)
		}
		// started tasks turn the assigner's edits into proposals
		if _, err := env.Engine.StartTask(env.Ctx, env.Dev, task.ID); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}

	var pending []string
	for _, id := range ids {
		out, err := env.Engine.PatchTask(env.Ctx, env.Manager, id, map[string]any{"allocated_time_in_seconds": 2500}, engine.EditStandalone)
		if err != nil || out.Pending == nil {
			t.Fatalf("proposal within budget: %+v %v", out, err)
		}
		pending = append(pending, out.Pending.ID)
	}

	if _, err := env.Engine.Approve(env.Ctx, env.CEO, pending[0]); err != nil {
		t.Fatalf("first approval fits the budget: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, env.CEO, pending[1]); !isValidation(err) {
		t.Fatalf("second approval would overrun the budget, got %v", err)
	}
	u, err := env.Engine.GetPending(env.Ctx, env.CEO, pending[1])
	if err != nil || u.Status != domain.PendingOpen {
		t.Fatalf("failed approval must leave the update open: %+v %v", u, err)
	}
	task, err := env.Engine.GetTask(env.Ctx, ids[1])
	if err != nil || task.AllocatedTimeInSeconds != 1000 {
		t.Fatalf("task changed by failed approval: %+v %v", task, err)
	}
}
