// Package notify posts run outcomes to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// WebhookTimeout is the maximum time to wait for a webhook request.
const WebhookTimeout = 10 * time.Second

// Event is the kind of notification.
type Event string

const (
	EventRunPassed Event = "run_passed"
	EventRunFailed Event = "run_failed"
	EventRunError  Event = "run_error"
)

// ScenarioOutcome is one scenario line in a payload.
type ScenarioOutcome struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	InstanceID int64  `json:"instance_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	Event     Event             `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Image     string            `json:"image"`
	Nodes     []string          `json:"nodes"`
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Error     string            `json:"error,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Sender delivers a payload.
type Sender interface {
	Send(ctx context.Context, url string, payload Payload) error
}

// WebhookSender posts payloads as JSON.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender returns a sender with WebhookTimeout.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: WebhookTimeout}}
}

// Send posts payload to url. An empty url is a no-op.
func (w *WebhookSender) Send(ctx context.Context, url string, payload Payload) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "timerharness-webhook/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier decides whether a run is worth reporting and sends it.
type Notifier struct {
	url          string
	onlyFailures bool
	sender       Sender
	logger       *log.Logger
	now          func() time.Time
}

// NewNotifier returns a notifier for url. A nil sender uses WebhookSender.
func NewNotifier(url string, onlyFailures bool, sender Sender, logger *log.Logger) *Notifier {
	if sender == nil {
		sender = NewWebhookSender()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{
		url:          url,
		onlyFailures: onlyFailures,
		sender:       sender,
		logger:       logger.WithPrefix("notify"),
		now:          time.Now,
	}
}

// Notify sends payload unless it is a pass and only failures are wanted.
// Delivery failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, payload Payload) {
	if n == nil || n.url == "" {
		return
	}
	if n.onlyFailures && payload.Event == EventRunPassed {
		return
	}
	if payload.Timestamp == "" {
		payload.Timestamp = n.now().UTC().Format(time.RFC3339)
	}
	if err := n.sender.Send(ctx, n.url, payload); err != nil {
		n.logger.Warn("webhook delivery failed", "event", payload.Event, "error", err)
		return
	}
	n.logger.Debug("webhook sent", "event", payload.Event, "run", payload.RunID)
}
