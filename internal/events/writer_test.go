package events

import "testing"

func TestAudienceDropsActorAndDuplicates(t *testing.T) {
	tr := Transition{ActorID: "ceo", Recipients: []string{"bob", "ceo", "", "amy", "bob"}}
	got := tr.Audience()
	if len(got) != 2 || got[0] != "bob" || got[1] != "amy" {
		t.Fatalf("unexpected audience %v", got)
	}
	tr.IncludeActor = true
	tr.Recipients = []string{"ceo", "ceo"}
	if got := tr.Audience(); len(got) != 1 || got[0] != "ceo" {
		t.Fatalf("self notification lost: %v", got)
	}
}

func TestDeleted(t *testing.T) {
	if !(Transition{Kind: "task.deleted"}).Deleted() {
		t.Fatalf("expected deleted")
	}
	if (Transition{Kind: "task.updated"}).Deleted() {
		t.Fatalf("unexpected deleted")
	}
}
