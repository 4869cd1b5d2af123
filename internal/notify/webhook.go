package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"agencyops/internal/config"
	"agencyops/internal/logging"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

// ErrQueueFull is returned when the webhook queue cannot take more messages.
var ErrQueueFull = errors.New("webhook queue full")

type webhookMessage struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
	TS      string `json:"ts"`
}

// WebhookSink posts notifications to external endpoints from a background worker. Each endpoint
// sits behind its own circuit breaker so a dead receiver stops costing timeouts.
type WebhookSink struct {
	hooks    []config.Webhook
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	queue    chan webhookMessage
	logger   *logrus.Logger
	now      func() time.Time
	wg       sync.WaitGroup
	once     sync.Once
}

func NewWebhookSink(hooks []config.Webhook, logger *logrus.Logger) *WebhookSink {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &WebhookSink{
		hooks:    hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(hooks)),
		queue:    make(chan webhookMessage, defaultWebhookQueue),
		logger:   logger,
		now:      time.Now,
	}
	for _, h := range hooks {
		s.breakers[h.URL] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook:" + h.URL,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Info("circuit breaker state changed")
			},
		})
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Notify enqueues the message without blocking.
func (s *WebhookSink) Notify(_ context.Context, userID, message, link string) error {
	if len(s.hooks) == 0 {
		return nil
	}
	msg := webhookMessage{UserID: userID, Message: message, Link: link, TS: s.now().UTC().Format(time.RFC3339)}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued deliveries to finish.
func (s *WebhookSink) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *WebhookSink) run() {
	defer s.wg.Done()
	for msg := range s.queue {
		for _, h := range s.hooks {
			if err := s.deliver(h, msg); err != nil {
				s.logger.WithFields(logrus.Fields{"url": h.URL, "user_id": msg.UserID}).WithError(err).Warn("webhook delivery failed")
			}
		}
	}
}

func (s *WebhookSink) deliver(h config.Webhook, msg webhookMessage) error {
	cb := s.breakers[h.URL]
	_, err := cb.Execute(func() (any, error) {
		return nil, s.post(h, msg)
	})
	return err
}

func (s *WebhookSink) post(h config.Webhook, msg webhookMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWebhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agencyops-Event", "notification")
	if strings.TrimSpace(h.Secret) != "" {
		req.Header.Set("X-Agencyops-Secret", h.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
