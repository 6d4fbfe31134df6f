// Package events is the typed event bus. Agents emit events, which are stored
// and routed to every matching subscription: to a webhook when the
// subscription names one, otherwise to the subscriber's live event streams.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

const (
	DefaultLimit     = 50
	MaxLimit         = 200
	DefaultRetention = 7 * 24 * time.Hour
)

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Poster delivers a JSON body to a webhook in the background.
type Poster interface {
	Event(url string, v any)
}

// Bus is safe for concurrent use.
type Bus struct {
	Store store.Store
	Pub   Publisher
	Hooks Poster
	Now   func() time.Time

	// Retention is how long Purge keeps events.
	Retention time.Duration
}

func New(st store.Store, pub Publisher, hooks Poster) *Bus {
	return &Bus{Store: st, Pub: pub, Hooks: hooks, Now: time.Now, Retention: DefaultRetention}
}

// Emit stores an event and routes it to matching subscriptions.
func (b *Bus) Emit(ctx context.Context, in models.EmitEvent) (*models.Event, error) {
	if in.Type == "" || in.SourceAgent == "" {
		return nil, errs.Invalid("type and source_agent are required")
	}
	payload, err := objectOrNull(in.Payload)
	if err != nil {
		return nil, errs.Invalid("payload must be a JSON object")
	}
	if in.Channel != nil && *in.Channel == "" {
		in.Channel = nil
	}
	e := store.Event{
		ID:          store.NewID(),
		Type:        in.Type,
		SourceAgent: in.SourceAgent,
		Channel:     in.Channel,
		Payload:     payload,
		CreatedAt:   b.Now(),
	}
	if err := b.Store.InsertEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	out := store.EventModel(e)
	b.route(ctx, out)
	return &out, nil
}

func (b *Bus) route(ctx context.Context, ev models.Event) {
	subs, err := b.Store.ListSubscriptions(ctx, "", ev.Type)
	if err != nil {
		slog.Warn("event subscriptions not loaded", "event", ev.ID, "type", ev.Type, "err", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	fields, err := eventFields(ev)
	if err != nil {
		slog.Warn("event not routed", "event", ev.ID, "err", err)
		return
	}
	channel := ""
	if ev.Channel != nil {
		channel = *ev.Channel
	}
	for _, s := range subs {
		sub := store.SubscriptionModel(s)
		if !Matches(sub.Filter, fields) {
			continue
		}
		if sub.WebhookURL != nil {
			if b.Hooks != nil {
				b.Hooks.Event(*sub.WebhookURL, ev)
			}
			continue
		}
		if b.Pub != nil {
			b.Pub.Publish(ctx, fanout.Event{ID: ev.ID, Name: models.EventBus, Channel: channel, Data: ev}, fanout.To(sub.AgentID))
		}
	}
}

// Fields is an event flattened for filter matching: its top-level fields plus
// the payload's.
type Fields struct {
	Top     map[string]any
	Payload map[string]any
}

func eventFields(ev models.Event) (Fields, error) {
	var f Fields
	raw, err := json.Marshal(ev)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(raw, &f.Top); err != nil {
		return f, err
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &f.Payload)
	}
	return f, nil
}

// Matches reports whether every filter key equals either the event's field of
// that name or the payload's. An empty filter matches everything.
func Matches(filter map[string]any, f Fields) bool {
	for k, want := range filter {
		if v, ok := f.Top[k]; ok && reflect.DeepEqual(v, want) {
			continue
		}
		if v, ok := f.Payload[k]; ok && reflect.DeepEqual(v, want) {
			continue
		}
		return false
	}
	return true
}

// List returns events newest first. since is unix milliseconds; limit defaults
// to 50 and is capped at 200.
func (b *Bus) List(ctx context.Context, eventType string, since int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	f := store.EventFilter{Type: eventType, Limit: limit}
	if since > 0 {
		f.Since = time.UnixMilli(since)
	}
	rows, err := b.Store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(rows))
	for _, e := range rows {
		out = append(out, store.EventModel(e))
	}
	return out, nil
}

// Subscribe records a subscription for agent, or for the anonymous agent when
// agent is empty.
func (b *Bus) Subscribe(ctx context.Context, agent string, in models.SubscribeEvents) (*models.EventSubscription, error) {
	if in.EventType == "" {
		return nil, errs.Invalid("event_type is required")
	}
	if agent == "" {
		agent = models.AnonymousAgent
	}
	if in.WebhookURL != nil && *in.WebhookURL == "" {
		in.WebhookURL = nil
	}
	if in.WebhookURL != nil {
		u, err := url.Parse(*in.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errs.Invalid("webhook_url must be an http(s) URL")
		}
	}
	sub := store.EventSubscription{
		ID:         store.NewID(),
		AgentID:    agent,
		EventType:  in.EventType,
		WebhookURL: in.WebhookURL,
		CreatedAt:  b.Now(),
	}
	if len(in.Filter) > 0 {
		raw, err := json.Marshal(in.Filter)
		if err != nil {
			return nil, errs.Invalid("filter: %v", err)
		}
		sub.Filter = raw
	}
	if err := b.Store.InsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	out := store.SubscriptionModel(sub)
	return &out, nil
}

// Subscriptions lists agent's subscriptions, newest first.
func (b *Bus) Subscriptions(ctx context.Context, agent string) ([]models.EventSubscription, error) {
	if agent == "" {
		agent = models.AnonymousAgent
	}
	rows, err := b.Store.ListSubscriptions(ctx, agent, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.EventSubscription, 0, len(rows))
	for _, s := range rows {
		out = append(out, store.SubscriptionModel(s))
	}
	return out, nil
}

// Unsubscribe deletes one of agent's subscriptions.
func (b *Bus) Unsubscribe(ctx context.Context, agent, id string) error {
	if agent == "" {
		agent = models.AnonymousAgent
	}
	return b.Store.DeleteSubscription(ctx, id, agent)
}

// Purge drops events older than the retention window.
func (b *Bus) Purge(ctx context.Context) (int64, error) {
	if b.Retention <= 0 {
		return 0, nil
	}
	return b.Store.PurgeEvents(ctx, b.Now().Add(-b.Retention))
}

func objectOrNull(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return trimmed, nil
}
