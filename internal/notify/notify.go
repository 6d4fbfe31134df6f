// Package notify delivers best-effort out-of-band notifications: per-agent
// message webhooks, event bus webhooks and an optional Slack channel for
// urgent traffic.
// Delivery runs in the background; failures are logged and never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Notification is the body POSTed to an agent's webhook.
type Notification struct {
	Event     string `json:"event"`
	Agent     string `json:"agent"`
	From      string `json:"from"`
	Channel   string `json:"channel"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Preview   string `json:"preview"`
}

// Preview clips content to 100 runes for notification text.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= 100 {
		return content
	}
	return string(r[:100]) + "..."
}

// Notifier is a delivery target.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Webhook POSTs the notification as JSON to URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w Webhook) Name() string { return "webhook" }

func (w Webhook) Notify(ctx context.Context, n Notification) error {
	if w.URL == "" {
		return fmt.Errorf("webhook URL not set")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return post(ctx, w.Client, w.URL, body)
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	Client     *http.Client
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, n Notification) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	text := fmt.Sprintf("[%s] %s → %s in #%s: %s", n.Priority, n.From, n.Agent, n.Channel, n.Preview)
	payload := map[string]any{"text": text}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return post(ctx, s.Client, s.WebhookURL, body)
}

func post(ctx context.Context, c *http.Client, url string, body []byte) error {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}

// Dispatcher runs notifications in the background with a per-call timeout.
type Dispatcher struct {
	Client  *http.Client
	Slack   Notifier // receives urgent messages when set
	Timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(slackURL string) *Dispatcher {
	d := &Dispatcher{Client: &http.Client{Timeout: 10 * time.Second}, Timeout: 10 * time.Second}
	if slackURL != "" {
		d.Slack = SlackWebhook{WebhookURL: slackURL, Username: "agent-comms", Client: d.Client}
	}
	return d
}

// Webhook queues delivery of n to url. It returns immediately.
func (d *Dispatcher) Webhook(url string, n Notification) {
	if d == nil || url == "" {
		return
	}
	d.run(Webhook{URL: url, Client: d.Client}, n)
}

// Urgent queues n to the Slack notifier, if one is configured.
func (d *Dispatcher) Urgent(n Notification) {
	if d == nil || d.Slack == nil {
		return
	}
	d.run(d.Slack, n)
}

func (d *Dispatcher) run(target Notifier, n Notification) {
	d.spawn(func(ctx context.Context) error { return target.Notify(ctx, n) },
		"target", target.Name(), "agent", n.Agent, "message", n.MessageID)
}

// Event queues a POST of v as JSON to url. It returns immediately.
func (d *Dispatcher) Event(url string, v any) {
	if d == nil || url == "" {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		slog.Warn("notify: encode event", "url", url, "err", err)
		return
	}
	d.spawn(func(ctx context.Context) error { return post(ctx, d.Client, url, body) },
		"target", "event", "url", url)
}

func (d *Dispatcher) spawn(deliver func(ctx context.Context) error, attrs ...any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := deliver(ctx); err != nil {
			slog.Warn("notify failed", append(attrs, "err", err)...)
		}
	}()
}

// Wait blocks until queued deliveries finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
