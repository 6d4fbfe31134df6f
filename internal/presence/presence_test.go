package presence

import (
	"context"
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

type recorder struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (r *recorder) Publish(_ context.Context, ev fanout.Event, _ fanout.Target) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func newTracker(t *testing.T) (*Tracker, *recorder, *time.Time) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	rec := &recorder{}
	now := time.UnixMilli(1_700_000_000_000)
	tr := New(st, rec)
	tr.Now = func() time.Time { return now }
	return tr, rec, &now
}

func ptr[T any](v T) *T { return &v }

func TestSetPartialAndBroadcast(t *testing.T) {
	t.Parallel()
	tr, rec, _ := newTracker(t)
	ctx := context.Background()

	p, err := tr.Set(ctx, "a", models.UpdatePresence{Status: ptr(models.PresenceBusy), Mood: ptr("focused")})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceBusy, p.Status)
	require.NotNil(t, p.Mood)

	p, err = tr.Set(ctx, "a", models.UpdatePresence{StatusText: ptr("reviewing")})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceBusy, p.Status, "unset fields are kept")
	assert.Equal(t, "focused", *p.Mood)
	assert.Equal(t, "reviewing", *p.StatusText)

	require.Len(t, rec.events, 2)
	assert.Equal(t, models.EventPresence, rec.events[1].Name)
	upd, ok := rec.events[1].Data.(Update)
	require.True(t, ok)
	assert.Equal(t, "a", upd.Agent)
}

func TestSetRejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	tr, rec, _ := newTracker(t)
	_, err := tr.Set(context.Background(), "a", models.UpdatePresence{Status: ptr("sleeping")})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, rec.events)
}

func TestStaleOnlineReadsAsAway(t *testing.T) {
	t.Parallel()
	tr, _, now := newTracker(t)
	ctx := context.Background()
	tr.Touch(ctx, "a")
	_, err := tr.Set(ctx, "b", models.UpdatePresence{Status: ptr(models.PresenceDND)})
	require.NoError(t, err)

	*now = now.Add(DefaultLong + time.Second)
	list, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[string]models.Presence{}
	for _, p := range list {
		byID[p.AgentID] = p
	}
	assert.Equal(t, models.PresenceOnline, byID["a"].Status, "stored value untouched")
	assert.Equal(t, models.PresenceAway, byID["a"].EffectiveStatus)
	assert.Equal(t, models.PresenceDND, byID["b"].EffectiveStatus)

	d, err := tr.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceAway, d.Presence.EffectiveStatus)
}

func TestGetUnknownIsNotFound(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTracker(t)
	_, err := tr.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestActivityNewestFirstAndLimit(t *testing.T) {
	t.Parallel()
	tr, _, now := newTracker(t)
	ctx := context.Background()
	for _, a := range []string{"first", "second", "third"} {
		_, err := tr.LogActivity(ctx, "a", a, nil)
		require.NoError(t, err)
		*now = now.Add(time.Second)
	}
	acts, err := tr.Activity(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "third", acts[0].Activity)
	assert.Equal(t, "second", acts[1].Activity)

	_, err = tr.LogActivity(ctx, "a", "", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	d, err := tr.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, d.Presence.Status, "logging activity marks the agent online")
	assert.Len(t, d.RecentActivity, 3)
}

func TestAvailableSortsByActiveTasks(t *testing.T) {
	t.Parallel()
	tr, _, now := newTracker(t)
	ctx := context.Background()
	st := tr.Store
	for _, id := range []string{"busy-one", "idle-one", "gone"} {
		tr.Touch(ctx, id)
	}
	require.NoError(t, st.InsertTask(ctx, store.Task{
		ID: "t1", Title: "x", CreatedBy: "c", Status: models.TaskInProgress, Priority: models.PriorityNormal,
		Channel: "general", AssignedTo: ptr("busy-one"), CreatedAt: *now, UpdatedAt: *now,
	}))
	_, err := tr.Set(ctx, "dnd-one", models.UpdatePresence{Status: ptr(models.PresenceDND)})
	require.NoError(t, err)

	avail, err := tr.Available(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 3)
	assert.Equal(t, 0, *avail[0].ActiveTasks)
	assert.Equal(t, "busy-one", avail[2].AgentID)
	assert.Equal(t, 1, *avail[2].ActiveTasks)

	*now = now.Add(DefaultLong + time.Second)
	avail, err = tr.Available(ctx)
	require.NoError(t, err)
	assert.Empty(t, avail)
}

func TestOnlineHoldsUntilLongThreshold(t *testing.T) {
	t.Parallel()
	tr, _, now := newTracker(t)
	ctx := context.Background()
	tr.Touch(ctx, "a")

	*now = now.Add(DefaultShort + time.Second)
	d, err := tr.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, d.Presence.EffectiveStatus, "past short, within long")
	seen := now.Add(-DefaultShort - time.Second)
	assert.False(t, tr.Online(&seen, *now))
}
