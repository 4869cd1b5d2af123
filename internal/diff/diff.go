// Package diff computes field-level change sets between two versions of an entity and merges
// approved change sets back into live records.
//
// Every entity kind declares its fields explicitly: editable fields take part in diffs and merges,
// excluded fields are owned by dedicated operations (ratings, acceptance) and system fields are
// maintained by the engine. A field that is in none of the lists is a programming error caught by
// the package tests.
package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"agencyops/internal/domain"
)

// ErrNoChange is returned when the edited entity does not differ from the original in any
// editable field.
var ErrNoChange = errors.New("no changes detected")

// Spec lists the fields of one entity kind by their JSON names.
type Spec struct {
	Kind     domain.EntityKind
	Editable []string
	Excluded []string
	System   []string
}

// Change is a computed diff: the new values of changed fields and their prior values.
type Change struct {
	Data     map[string]any `json:"data"`
	Original map[string]any `json:"original_data"`
}

func (c Change) Empty() bool { return len(c.Data) == 0 }

var ProjectSpec = Spec{
	Kind: domain.KindProject,
	Editable: []string{
		"name", "description", "client_id", "status", "progress", "team_member_ids",
		"allocated_time_in_seconds", "divisions", "deadline",
	},
	Excluded: []string{"ratings", "acceptance"},
	System:   []string{"id", "assigner_id", "version", "created_at", "updated_at"},
}

var TaskSpec = Spec{
	Kind: domain.KindTask,
	Editable: []string{
		"title", "description", "project_id", "client_id", "assignee_id", "priority",
		"allocated_time_in_seconds", "due_date",
	},
	Excluded: []string{"ratings", "acceptance"},
	System: []string{
		"id", "assigner_id", "status", "time_spent_seconds", "timer_start_time", "revision_note",
		"completion_report", "archived", "archived_at", "archived_by", "completed_at", "version",
		"created_at", "updated_at",
	},
}

var TeammateSpec = Spec{
	Kind:     domain.KindTeammate,
	Editable: []string{"name", "email", "phone", "role", "salary"},
	System:   []string{"id", "approved", "created_at", "updated_at"},
}

// For returns the spec registered for kind.
func For(kind domain.EntityKind) (Spec, bool) {
	switch kind {
	case domain.KindProject:
		return ProjectSpec, true
	case domain.KindTask:
		return TaskSpec, true
	case domain.KindTeammate:
		return TeammateSpec, true
	}
	return Spec{}, false
}

func (s Spec) excluded(field string) bool {
	for _, f := range s.Excluded {
		if f == field {
			return true
		}
	}
	return false
}

func (s Spec) editable(field string) bool {
	if s.excluded(field) {
		return false
	}
	for _, f := range s.Editable {
		if f == field {
			return true
		}
	}
	return false
}

// Compute returns the editable fields whose canonical JSON differs between original and edited.
// An empty result is reported as ErrNoChange.
func (s Spec) Compute(original, edited any) (Change, error) {
	a, err := fields(original)
	if err != nil {
		return Change{}, fmt.Errorf("original %s: %w", s.Kind, err)
	}
	b, err := fields(edited)
	if err != nil {
		return Change{}, fmt.Errorf("edited %s: %w", s.Kind, err)
	}
	ch := Change{Data: map[string]any{}, Original: map[string]any{}}
	for _, name := range s.Editable {
		if s.excluded(name) {
			continue
		}
		av, bv := a[name], b[name]
		if canonical(av) == canonical(bv) {
			continue
		}
		ch.Data[name] = decode(bv)
		ch.Original[name] = decode(av)
	}
	if ch.Empty() {
		return ch, ErrNoChange
	}
	return ch, nil
}

// Merge overlays the editable fields present in data onto target, which must be a pointer to the
// entity struct. Unknown and non-editable keys (including the action marker) are ignored. Merged
// fields are reset before decoding so the result never shares pointers or slices with a copy of
// the original.
func (s Spec) Merge(target any, data map[string]any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("merge %s: target must be a struct pointer", s.Kind)
	}
	patch := map[string]json.RawMessage{}
	for k, v := range data {
		if !s.editable(k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("merge %s.%s: %w", s.Kind, k, err)
		}
		patch[k] = raw
	}
	if len(patch) == 0 {
		return nil
	}
	reset(rv.Elem(), patch)
	out, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, target); err != nil {
		return fmt.Errorf("merge %s: %w", s.Kind, err)
	}
	return nil
}

// reset zeroes the struct fields whose JSON names appear in names.
func reset(v reflect.Value, names map[string]json.RawMessage) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" {
			name = f.Name
		}
		if _, ok := names[name]; ok && v.Field(i).CanSet() {
			v.Field(i).Set(reflect.Zero(f.Type))
		}
	}
}

// Restrict drops keys from data that are not editable for the kind, keeping the action and
// justification markers.
func (s Spec) Restrict(data map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range data {
		if k == domain.ActionKey || k == domain.JustificationKey || s.editable(k) {
			out[k] = v
		}
	}
	return out
}

func fields(v any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// canonical re-encodes raw JSON so that key order and whitespace do not affect equality.
// A missing field and an explicit null compare equal.
func canonical(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	v := decode(raw)
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func decode(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
