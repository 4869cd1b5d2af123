package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"agencyops/internal/config"
	"agencyops/internal/events"
)

type failingSink struct{}

func (failingSink) Notify(context.Context, string, string, string) error {
	return errors.New("channel down")
}

func TestDispatchSkipsActorAndSurvivesFailingSink(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(nil, failingSink{}, rec)
	d.Dispatch(context.Background(), events.Transition{
		Kind:       "task.revision_requested",
		ActorID:    "ceo",
		Recipients: []string{"bob", "ceo", "amy", "bob"},
		Message:    "Revision requested",
		Link:       "tasks",
	})
	msgs := rec.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", msgs)
	}
	if len(rec.For("ceo")) != 0 {
		t.Fatalf("actor should not be notified")
	}
}

func TestDispatchWithoutMessageIsFeedOnly(t *testing.T) {
	rec := &Recorder{}
	NewDispatcher(nil, rec).Dispatch(context.Background(), events.Transition{Kind: "task.paused", Recipients: []string{"bob"}})
	if len(rec.Messages()) != 0 {
		t.Fatalf("expected no messages")
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Agencyops-Secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var m webhookMessage
		_ = json.NewDecoder(r.Body).Decode(&m)
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]config.Webhook{{URL: srv.URL, Secret: "s3cret"}}, nil)
	if err := sink.Notify(context.Background(), "bob", "hello", "tasks"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].UserID != "bob" || got[0].Message != "hello" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestWebhookSinkBreakerOpensOnFailures(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]config.Webhook{{URL: srv.URL}}, nil)
	for i := 0; i < 10; i++ {
		_ = sink.Notify(context.Background(), "bob", "hello", "")
	}
	sink.Close()
	mu.Lock()
	defer mu.Unlock()
	// four consecutive failures trip the breaker; the rest are rejected without a request
	if calls != 4 {
		t.Fatalf("expected 4 requests before the breaker opened, got %d", calls)
	}
}
