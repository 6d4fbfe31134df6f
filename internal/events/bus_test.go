package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

type delivery struct {
	ev fanout.Event
	to fanout.Target
}

type post struct {
	url string
	v   any
}

type recorder struct {
	mu    sync.Mutex
	out   []delivery
	posts []post
}

func (r *recorder) Publish(_ context.Context, ev fanout.Event, t fanout.Target) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{ev, t})
	return 1
}

func (r *recorder) Event(url string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, post{url, v})
}

func newBus(t *testing.T) (*Bus, *recorder) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	rec := &recorder{}
	return New(st, rec, rec), rec
}

func strp(s string) *string { return &s }

func TestEmitValidates(t *testing.T) {
	t.Parallel()
	b, _ := newBus(t)
	ctx := context.Background()

	_, err := b.Emit(ctx, models.EmitEvent{Type: "deploy"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = b.Emit(ctx, models.EmitEvent{Type: "deploy", SourceAgent: "ci", Payload: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, errs.ErrValidation)

	ev, err := b.Emit(ctx, models.EmitEvent{Type: "deploy", SourceAgent: "ci", Payload: json.RawMessage(` null `)})
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)
	assert.Nil(t, ev.Channel)
}

func TestEmitRoutesToMatchingSubscriptions(t *testing.T) {
	t.Parallel()
	b, rec := newBus(t)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "watcher", models.SubscribeEvents{EventType: "deploy"})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "prod-only", models.SubscribeEvents{EventType: "deploy", Filter: map[string]any{"env": "prod"}})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "ci-only", models.SubscribeEvents{EventType: "deploy", Filter: map[string]any{"source_agent": "ci"}})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "hooked", models.SubscribeEvents{EventType: "deploy", WebhookURL: strp("https://hooks.test/deploy")})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "builds", models.SubscribeEvents{EventType: "build"})
	require.NoError(t, err)

	ev, err := b.Emit(ctx, models.EmitEvent{
		Type:        "deploy",
		SourceAgent: "ci",
		Channel:     strp("ops"),
		Payload:     json.RawMessage(`{"env":"staging"}`),
	})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var to []string
	for _, d := range rec.out {
		to = append(to, d.to.Agent)
		assert.Equal(t, models.EventBus, d.ev.Name)
		assert.Equal(t, "ops", d.ev.Channel, "bus events are scoped to their channel")
		assert.Equal(t, ev.ID, d.ev.ID)
	}
	assert.ElementsMatch(t, []string{"watcher", "ci-only"}, to)
	require.Len(t, rec.posts, 1)
	assert.Equal(t, "https://hooks.test/deploy", rec.posts[0].url)
}

func TestMatches(t *testing.T) {
	t.Parallel()
	ev := models.Event{ID: "e1", Type: "deploy", SourceAgent: "ci", Payload: json.RawMessage(`{"env":"prod","replicas":3}`)}
	f, err := eventFields(ev)
	require.NoError(t, err)

	assert.True(t, Matches(nil, f))
	assert.True(t, Matches(map[string]any{"env": "prod", "source_agent": "ci"}, f))
	assert.True(t, Matches(map[string]any{"replicas": float64(3)}, f))
	assert.False(t, Matches(map[string]any{"env": "staging"}, f))
	assert.False(t, Matches(map[string]any{"region": "eu"}, f))
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	b, _ := newBus(t)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "a", models.SubscribeEvents{})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = b.Subscribe(ctx, "a", models.SubscribeEvents{EventType: "x", WebhookURL: strp("ftp://nope")})
	assert.ErrorIs(t, err, errs.ErrValidation)

	sub, err := b.Subscribe(ctx, "", models.SubscribeEvents{EventType: "x", Filter: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, models.AnonymousAgent, sub.AgentID)
	assert.Equal(t, map[string]any{"k": "v"}, sub.Filter)

	list, err := b.Subscriptions(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, b.Unsubscribe(ctx, "someone-else", sub.ID), errs.ErrNotFound)
	require.NoError(t, b.Unsubscribe(ctx, "", sub.ID))
	list, err = b.Subscriptions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListAndPurge(t *testing.T) {
	t.Parallel()
	b, _ := newBus(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	b.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := b.Emit(ctx, models.EmitEvent{Type: "tick", SourceAgent: "clock"})
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}
	_, err := b.Emit(ctx, models.EmitEvent{Type: "tock", SourceAgent: "clock"})
	require.NoError(t, err)

	all, err := b.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "tock", all[0].Type)

	ticks, err := b.List(ctx, "tick", now.Add(-2*time.Hour).UnixMilli(), 0)
	require.NoError(t, err)
	assert.Len(t, ticks, 2)

	b.Retention = 90 * time.Minute
	n, err := b.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
