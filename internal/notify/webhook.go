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
	"time"

	"coordline/internal/config"
	"coordline/internal/logging"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

// ErrQueueFull is returned when the webhook worker cannot keep up.
var ErrQueueFull = errors.New("webhook queue full")

// WebhookSink posts notifications as JSON to the configured webhooks. Notify
// only enqueues; Run performs the deliveries.
type WebhookSink struct {
	hooks  []config.Webhook
	client *http.Client
	logger *logging.Logger
	queue  chan Notification
}

func NewWebhookSink(hooks []config.Webhook, logger *logging.Logger) *WebhookSink {
	var active []config.Webhook
	for _, h := range hooks {
		if h.Active() && strings.TrimSpace(h.URL) != "" {
			active = append(active, h)
		}
	}
	return &WebhookSink{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
		queue:  make(chan Notification, defaultWebhookQueue),
	}
}

// Enabled reports whether any webhook is configured.
func (s *WebhookSink) Enabled() bool { return len(s.hooks) > 0 }

func (s *WebhookSink) Notify(_ context.Context, n Notification) error {
	if !s.Enabled() {
		return nil
	}
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is done.
func (s *WebhookSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			for _, hook := range s.hooks {
				if !newEventFilter(hook.Events).match(n.Event) {
					continue
				}
				if err := s.post(ctx, hook, n); err != nil {
					s.logger.Warn("webhook delivery failed", "url", hook.URL, "event", n.Event, "error", err.Error())
				}
			}
		}
	}
}

func (s *WebhookSink) post(ctx context.Context, hook config.Webhook, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	client := s.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Coordline-Event", n.Event)
	req.Header.Set("X-Coordline-Kind", string(n.Kind))
	if hook.ID != "" {
		req.Header.Set("X-Coordline-Hook", hook.ID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Coordline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
