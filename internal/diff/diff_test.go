package diff_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"agencyops/internal/diff"
	"agencyops/internal/domain"
)

func sampleTask() domain.Task {
	pid := "proj-1"
	five := 5
	return domain.Task{
		ID:                     "task-1",
		Title:                  "Write brief",
		ProjectID:              &pid,
		AssignerID:             "amy",
		AssigneeID:             "bob",
		Status:                 domain.TaskInProgress,
		Priority:               domain.PriorityMedium,
		AllocatedTimeInSeconds: 3600,
		TimeSpentSeconds:       600,
		Timer:                  domain.RunningSince(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Ratings:                domain.Ratings{Assigner: &five},
	}
}

func TestComputeSameEntityIsNoChange(t *testing.T) {
	task := sampleTask()
	ch, err := diff.TaskSpec.Compute(task, task)
	if !errors.Is(err, diff.ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
	if len(ch.Data) != 0 || len(ch.Original) != 0 {
		t.Fatalf("expected empty maps, got %v / %v", ch.Data, ch.Original)
	}

	p := domain.Project{ID: "p", Name: "Site", TeamMemberIDs: []string{"a", "b"}, Divisions: []string{}}
	if _, err := diff.ProjectSpec.Compute(p, p); !errors.Is(err, diff.ErrNoChange) {
		t.Fatalf("project: expected ErrNoChange, got %v", err)
	}
}

func TestComputeOnlyChangedFields(t *testing.T) {
	orig := sampleTask()
	edited := orig
	edited.Title = "Write final brief"
	three := 3
	edited.Ratings = domain.Ratings{Assigner: &three}
	edited.TimeSpentSeconds = 99999

	ch, err := diff.TaskSpec.Compute(orig, edited)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(ch.Data) != 1 || ch.Data["title"] != "Write final brief" {
		t.Fatalf("unexpected data %v", ch.Data)
	}
	if len(ch.Original) != 1 || ch.Original["title"] != "Write brief" {
		t.Fatalf("unexpected original %v", ch.Original)
	}
	if _, ok := ch.Data["ratings"]; ok {
		t.Fatalf("ratings leaked into diff")
	}
}

func TestComputeDeepEquality(t *testing.T) {
	orig := domain.Project{ID: "p", TeamMemberIDs: []string{"a", "b"}, Divisions: []string{"design"}}
	edited := orig
	edited.TeamMemberIDs = append([]string(nil), orig.TeamMemberIDs...)
	edited.Divisions = []string{"design"}
	edited.Acceptance = map[string]domain.ProjectAcceptance{"a": {Status: domain.AcceptanceAccepted}}
	if _, err := diff.ProjectSpec.Compute(orig, edited); !errors.Is(err, diff.ErrNoChange) {
		t.Fatalf("copied slices and acceptance should not count as change: %v", err)
	}

	edited.TeamMemberIDs = []string{"a", "c"}
	ch, err := diff.ProjectSpec.Compute(orig, edited)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, ok := ch.Data["team_member_ids"]; !ok || len(ch.Data) != 1 {
		t.Fatalf("expected team_member_ids only, got %v", ch.Data)
	}
	if _, ok := ch.Data["acceptance"]; ok {
		t.Fatalf("acceptance leaked into diff")
	}
}

func TestMergeAppliesEditableFieldsOnly(t *testing.T) {
	task := sampleTask()
	err := diff.TaskSpec.Merge(&task, map[string]any{
		"title":              "New",
		"priority":           domain.PriorityUrgent,
		"status":             "Completed",
		"time_spent_seconds": 0,
		"ratings":            map[string]any{"ceo": 1},
		domain.ActionKey:     "noop",
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if task.Title != "New" || task.Priority != domain.PriorityUrgent {
		t.Fatalf("editable fields not merged: %+v", task)
	}
	if task.Status != domain.TaskInProgress || task.TimeSpentSeconds != 600 {
		t.Fatalf("system fields overwritten: %+v", task)
	}
	if task.Ratings.CEO != nil || task.Ratings.Assigner == nil || *task.Ratings.Assigner != 5 {
		t.Fatalf("ratings overwritten: %+v", task.Ratings)
	}
	if !task.Timer.Running() {
		t.Fatalf("timer lost during merge")
	}
}

func TestMergeRoundTripsComputedChange(t *testing.T) {
	orig := domain.Project{ID: "p", Name: "Old", AllocatedTimeInSeconds: 7200, TeamMemberIDs: []string{"a"}}
	edited := orig
	edited.Name = "New"
	edited.AllocatedTimeInSeconds = 10800
	edited.TeamMemberIDs = []string{"a", "b"}
	ch, err := diff.ProjectSpec.Compute(orig, edited)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	live := orig
	if err := diff.ProjectSpec.Merge(&live, ch.Data); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !reflect.DeepEqual(live, edited) {
		t.Fatalf("merge mismatch:\n got %+v\nwant %+v", live, edited)
	}
}

// Every JSON field of a diffable entity must be classified, so new fields cannot slip into
// proposals unnoticed.
func TestSpecsClassifyEveryField(t *testing.T) {
	cases := []struct {
		spec diff.Spec
		typ  reflect.Type
	}{
		{diff.ProjectSpec, reflect.TypeOf(domain.Project{})},
		{diff.TaskSpec, reflect.TypeOf(domain.Task{})},
		{diff.TeammateSpec, reflect.TypeOf(domain.Teammate{})},
	}
	for _, tc := range cases {
		known := map[string]int{}
		for _, f := range tc.spec.Editable {
			known[f]++
		}
		for _, f := range tc.spec.System {
			known[f]++
		}
		for _, f := range tc.spec.Excluded {
			if _, ok := known[f]; ok {
				t.Errorf("%s: %s both excluded and classified", tc.spec.Kind, f)
			}
		}
		for i := 0; i < tc.typ.NumField(); i++ {
			name := strings.Split(tc.typ.Field(i).Tag.Get("json"), ",")[0]
			if name == "-" || name == "" {
				continue
			}
			excluded := false
			for _, f := range tc.spec.Excluded {
				if f == name {
					excluded = true
				}
			}
			if known[name] == 0 && !excluded {
				t.Errorf("%s: field %s is not classified", tc.spec.Kind, name)
			}
			if known[name] > 1 {
				t.Errorf("%s: field %s classified twice", tc.spec.Kind, name)
			}
		}
	}
}

func TestRestrictKeepsMarkers(t *testing.T) {
	out := diff.TaskSpec.Restrict(map[string]any{domain.ActionKey: domain.ActionDelete, "status": "Completed", "title": "x"})
	if out[domain.ActionKey] != domain.ActionDelete || out["title"] != "x" {
		t.Fatalf("unexpected restrict result %v", out)
	}
	role := diff.TeammateSpec.Restrict(map[string]any{"role": "HR", domain.JustificationKey: "payroll", "approved": true})
	if len(role) != 2 || role[domain.JustificationKey] != "payroll" {
		t.Fatalf("unexpected teammate restrict result %v", role)
	}
	if _, ok := out["status"]; ok {
		t.Fatalf("status should be dropped")
	}
}

func TestMergeDoesNotWriteThroughSharedPointers(t *testing.T) {
	project := "p1"
	orig := domain.Task{ID: "t", Title: "a", ProjectID: &project}
	edited := orig
	if err := diff.TaskSpec.Merge(&edited, map[string]any{"project_id": "p2"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if *orig.ProjectID != "p1" || *edited.ProjectID != "p2" {
		t.Fatalf("orig=%s edited=%s", *orig.ProjectID, *edited.ProjectID)
	}
	if _, err := diff.TaskSpec.Compute(orig, edited); err != nil {
		t.Fatalf("change lost: %v", err)
	}
}
