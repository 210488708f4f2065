// Package notifications provides event alerting for AegisGuard.
// It supports webhook and Slack transports, dispatching events like
// blocked injections, policy denials, and rejected webhook signatures.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/webhook"
)

// Event represents a notification event type.
type Event string

const (
	EventInjectionBlocked  Event = "injection_blocked"
	EventPIIBlocked        Event = "pii_blocked"
	EventPolicyDenied      Event = "policy_denied"
	EventSignatureRejected Event = "signature_rejected"
	EventLockdown          Event = "lockdown"
)

// SignatureHeader carries the signature on outbound notification webhooks.
const SignatureHeader = "X-AegisGuard-Signature"

// Payload carries the notification data. It never includes raw user text.
type Payload struct {
	Event      Event          `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Pattern    string         `json:"pattern,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, payload Payload) error
	Handles(event Event) bool
}

// Dispatcher fans out notifications to all registered notifiers.
type Dispatcher struct {
	notifiers []Notifier
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher from configuration. Unknown types are skipped.
func NewDispatcher(configs []NotifierConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		switch cfg.Type {
		case "webhook":
			d.notifiers = append(d.notifiers, NewWebhookNotifier(cfg.URL, cfg.Secret, cfg.Events))
		case "slack":
			d.notifiers = append(d.notifiers, NewSlackNotifier(cfg.WebhookURL, cfg.Events))
		default:
			logger.Warn("unknown notifier type", zap.String("type", cfg.Type))
		}
	}
	return d
}

// Add registers an extra notifier.
func (d *Dispatcher) Add(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// Notify sends a payload to all notifiers that handle this event type.
// Sends run in the background and outlive the caller's cancellation.
func (d *Dispatcher) Notify(ctx context.Context, payload Payload) {
	if d == nil {
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)
	for _, n := range d.notifiers {
		if !n.Handles(payload.Event) {
			continue
		}
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			if err := n.Send(ctx, payload); err != nil {
				d.logger.Warn("notification failed", zap.String("event", string(payload.Event)), zap.Error(err))
			}
		}(n)
	}
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// NotifierConfig represents a notification channel from config.yaml.
type NotifierConfig struct {
	Type       string  `yaml:"type"`
	URL        string  `yaml:"url,omitempty"`
	Secret     string  `yaml:"secret,omitempty"`
	WebhookURL string  `yaml:"webhook_url,omitempty"`
	Events     []Event `yaml:"events"`
}

// --- Webhook Notifier ---

// WebhookNotifier sends HMAC-signed HTTP POST payloads in the same
// "sha256=<hex>" format the inbound webhook verifier accepts.
type WebhookNotifier struct {
	url    string
	secret string
	events map[Event]bool
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url, secret string, events []Event) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		events: eventSet(events),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Handles returns true if this notifier is subscribed to the event.
func (w *WebhookNotifier) Handles(event Event) bool {
	return len(w.events) == 0 || w.events[event]
}

// Send dispatches the payload via HTTP POST with HMAC signature.
func (w *WebhookNotifier) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal failed: %w", err)
	}
	return PostSigned(ctx, w.client, w.url, body, w.secret, SignatureHeader)
}

// PostSigned POSTs a JSON body, signing it when secret is set.
func PostSigned(ctx context.Context, client *http.Client, url string, body []byte, secret, header string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AegisGuard-Notification/1.0")
	if secret != "" {
		req.Header.Set(header, webhook.Sign(body, secret))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}
	return nil
}

// --- Slack Notifier ---

// SlackNotifier sends messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	events     map[Event]bool
	client     *http.Client
}

// NewSlackNotifier creates a new SlackNotifier.
func NewSlackNotifier(webhookURL string, events []Event) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		events:     eventSet(events),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Handles returns true if this notifier is subscribed to the event.
func (s *SlackNotifier) Handles(event Event) bool {
	return len(s.events) == 0 || s.events[event]
}

// Send dispatches the notification as a Slack message.
func (s *SlackNotifier) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(formatSlackMessage(payload))
	if err != nil {
		return fmt.Errorf("slack: marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack: server returned %d", resp.StatusCode)
	}
	return nil
}

type slackMessage struct {
	Text string `json:"text"`
}

func formatSlackMessage(p Payload) slackMessage {
	var icon, title string
	switch p.Event {
	case EventInjectionBlocked:
		icon = ":no_entry:"
		title = "Prompt Injection Blocked"
	case EventPIIBlocked:
		icon = ":lock:"
		title = "PII Input Blocked"
	case EventPolicyDenied:
		icon = ":warning:"
		title = "Policy Denied"
	case EventSignatureRejected:
		icon = ":closed_lock_with_key:"
		title = "Webhook Signature Rejected"
	case EventLockdown:
		icon = ":rotating_light:"
		title = "LOCKDOWN"
	default:
		icon = ":bell:"
		title = string(p.Event)
	}

	text := fmt.Sprintf("%s *AegisGuard: %s*", icon, title)
	if p.Channel != "" {
		text += fmt.Sprintf("\nChannel: `%s`", p.Channel)
	}
	if p.Reason != "" {
		text += fmt.Sprintf("\nReason: `%s`", p.Reason)
	}
	if p.Pattern != "" {
		text += fmt.Sprintf("\nPattern: `%s`", p.Pattern)
	}
	if len(p.Categories) > 0 {
		text += fmt.Sprintf("\nCategories: `%s`", strings.Join(p.Categories, ", "))
	}
	if p.RequestID != "" {
		text += fmt.Sprintf("\nRequest: `%s`", p.RequestID)
	}

	return slackMessage{Text: text}
}

func eventSet(events []Event) map[Event]bool {
	m := make(map[Event]bool, len(events))
	for _, e := range events {
		m[e] = true
	}
	return m
}
