package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agencyops/internal/domain"
)

// Transition is the single event emitted for every committed state change. It is stored in the
// events table inside the same transaction as the change and later handed to the notification
// dispatcher.
type Transition struct {
	Kind       string            `json:"kind"`
	ActorID    string            `json:"actor_id"`
	TargetKind domain.EntityKind `json:"target_kind"`
	TargetID   string            `json:"target_id"`
	Recipients []string          `json:"recipients,omitempty"`
	Message    string            `json:"message,omitempty"`
	Link       string            `json:"link,omitempty"`
	// IncludeActor keeps the actor among the recipients; informational self-notifications use it.
	IncludeActor bool `json:"include_actor,omitempty"`
	// Record is the entity snapshot after the change, nil for deletions.
	Record any `json:"record,omitempty"`
}

// Deleted reports whether the transition removes its target.
func (t Transition) Deleted() bool { return strings.HasSuffix(t.Kind, ".deleted") }

// Audience returns the recipients without blanks and duplicates and, unless IncludeActor is set,
// without the actor.
func (t Transition) Audience() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range t.Recipients {
		if id == "" || seen[id] {
			continue
		}
		if id == t.ActorID && !t.IncludeActor {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type Writer struct {
	Now func() time.Time
}

// Payload is the stored form of a transition.
type Payload struct {
	Recipients []string        `json:"recipients,omitempty"`
	Message    string          `json:"message,omitempty"`
	Link       string          `json:"link,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, tr Transition) error {
	return w.AppendWith(ctx, tx, tr, nil)
}

// AppendWith stores the transition with additional payload fields.
func (w Writer) AppendWith(ctx context.Context, tx *sql.Tx, tr Transition, extra map[string]any) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if tr.Kind == "" || tr.TargetKind == "" {
		return fmt.Errorf("transition kind and target kind are required")
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	p := Payload{Recipients: tr.Audience(), Message: tr.Message, Link: tr.Link, Extra: extra}
	if tr.Record != nil && !tr.Deleted() {
		rec, err := json.Marshal(tr.Record)
		if err != nil {
			return fmt.Errorf("marshal event record: %w", err)
		}
		p.Record = rec
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, tr.Kind, string(tr.TargetKind), nullable(tr.TargetID), tr.ActorID, string(data))
	return err
}

// DecodePayload parses a stored payload.
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if raw == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(raw), &p)
	return p, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
