// Package notify delivers workflow notifications. Delivery is best effort: a failing sink is
// logged and skipped and never affects the transition that produced the notification.
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"agencyops/internal/events"
	"agencyops/internal/logging"
)

// Sink receives one message for one teammate.
type Sink interface {
	Notify(ctx context.Context, userID, message, link string) error
}

// Dispatcher fans committed transitions out to every configured sink.
type Dispatcher struct {
	Sinks  []Sink
	Logger *logrus.Logger
}

func NewDispatcher(logger *logrus.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{Sinks: sinks, Logger: logger}
}

// Dispatch delivers the transition message to its audience. Transitions without a message are
// feed-only and produce no notification.
func (d *Dispatcher) Dispatch(ctx context.Context, tr events.Transition) {
	if d == nil || tr.Message == "" {
		return
	}
	for _, userID := range tr.Audience() {
		for _, s := range d.Sinks {
			if err := s.Notify(ctx, userID, tr.Message, tr.Link); err != nil {
				d.Logger.WithFields(logrus.Fields{
					"event":     tr.Kind,
					"target_id": tr.TargetID,
					"user_id":   userID,
				}).WithError(err).Warn("notification dropped")
			}
		}
	}
}

// Message is one delivered notification, as captured by Recorder.
type Message struct {
	UserID  string
	Message string
	Link    string
}

// Recorder keeps delivered messages in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(_ context.Context, userID, message, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{UserID: userID, Message: message, Link: link})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// For returns the messages delivered to userID.
func (r *Recorder) For(userID string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
