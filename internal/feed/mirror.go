// Package feed keeps a local copy of entities in sync with the change feed.
package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agencyops/internal/domain"
	"agencyops/internal/events"
)

// Op is the effect an event has on a local copy.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

// OpFor derives the effect from an event type: "*.deleted" removes, anything else replaces.
func OpFor(eventType string) Op {
	if strings.HasSuffix(eventType, ".deleted") {
		return OpDelete
	}
	return OpUpsert
}

// Mirror holds the latest known version of each entity of one kind, keyed by id.
// The last applied event wins.
type Mirror[T any] struct {
	kind   domain.EntityKind
	idOf   func(T) string
	mu     sync.RWMutex
	items  map[string]T
	cursor int64
}

func NewMirror[T any](kind domain.EntityKind, idOf func(T) string) *Mirror[T] {
	return &Mirror[T]{kind: kind, idOf: idOf, items: map[string]T{}}
}

// Tasks, Comments and Notifications are the mirrors the front-ends keep.
func Tasks() *Mirror[domain.Task] {
	return NewMirror(domain.KindTask, func(t domain.Task) string { return t.ID })
}

func Comments() *Mirror[domain.Comment] {
	return NewMirror(domain.KindComment, func(c domain.Comment) string { return c.ID })
}

func Notifications() *Mirror[domain.Notification] {
	return NewMirror(domain.KindNotification, func(n domain.Notification) string { return n.ID })
}

func PendingUpdates() *Mirror[domain.PendingUpdate] {
	return NewMirror(domain.KindPending, func(u domain.PendingUpdate) string { return u.ID })
}

// Seed replaces the local state with a full listing.
func (m *Mirror[T]) Seed(items []T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]T, len(items))
	for _, it := range items {
		m.items[m.idOf(it)] = it
	}
}

// Upsert inserts the item if absent and replaces it otherwise.
func (m *Mirror[T]) Upsert(item T) {
	m.mu.Lock()
	m.items[m.idOf(item)] = item
	m.mu.Unlock()
}

// Remove drops the item; removing an unknown id is a no-op.
func (m *Mirror[T]) Remove(id string) {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
}

// Apply merges one stored event. Events for other kinds only advance the cursor.
func (m *Mirror[T]) Apply(ev domain.Event) error {
	defer m.advance(ev.ID)
	if ev.EntityKind != string(m.kind) {
		return nil
	}
	if OpFor(ev.Type) == OpDelete {
		m.Remove(ev.EntityID)
		return nil
	}
	p, err := events.DecodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("event %d: %w", ev.ID, err)
	}
	if len(p.Record) == 0 {
		return nil
	}
	var item T
	if err := json.Unmarshal(p.Record, &item); err != nil {
		return fmt.Errorf("event %d record: %w", ev.ID, err)
	}
	m.Upsert(item)
	return nil
}

// ApplyAll applies events in order and stops at the first malformed one.
func (m *Mirror[T]) ApplyAll(evs []domain.Event) error {
	for _, ev := range evs {
		if err := m.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror[T]) advance(id int64) {
	m.mu.Lock()
	if id > m.cursor {
		m.cursor = id
	}
	m.mu.Unlock()
}

// SkipTo moves the cursor past events the feed withheld from this caller.
func (m *Mirror[T]) SkipTo(cursor int64) {
	m.advance(cursor)
}

// Cursor is the id of the last applied event.
func (m *Mirror[T]) Cursor() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	return it, ok
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// List returns the items ordered by id.
func (m *Mirror[T]) List() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id])
	}
	return out
}
