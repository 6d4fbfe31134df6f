package coord

import (
	"context"
	"fmt"
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

type recorder struct {
	mu   sync.Mutex
	out  []delivery
	sent []models.SendMessage
}

func (r *recorder) Publish(_ context.Context, ev fanout.Event, t fanout.Target) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{ev, t})
	return 1
}

func (r *recorder) Send(_ context.Context, in models.SendMessage) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, in)
	return &models.Message{ID: "m"}, nil
}

func newService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	rec := &recorder{}
	return New(st, rec, rec), rec
}

func TestBarrierClearsOnLastSignal(t *testing.T) {
	t.Parallel()
	s, rec := newService(t)
	ctx := context.Background()

	b, err := s.CreateBarrier(ctx, CreateBarrier{Agents: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultChannel, b.Channel)

	sig, err := s.SignalReady(ctx, b.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, models.BarrierWaiting, sig.Status)
	assert.Equal(t, []string{"a"}, sig.Ready)
	assert.ElementsMatch(t, []string{"b", "c"}, sig.Remaining)

	sig, err = s.SignalReady(ctx, b.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, models.BarrierAlreadyReady, sig.Status)

	_, err = s.SignalReady(ctx, b.ID, "b")
	require.NoError(t, err)
	sig, err = s.SignalReady(ctx, b.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, models.BarrierCleared, sig.Status)
	assert.Equal(t, []string{"a", "b", "c"}, sig.Agents)

	got, err := s.Barrier(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Cleared)
	assert.NotNil(t, got.ClearedAt)

	var targets []string
	for _, d := range rec.out {
		assert.Equal(t, models.EventSystem, d.ev.Name)
		targets = append(targets, d.to.Agent)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, targets)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, models.PriorityHigh, rec.sent[0].Priority)
	assert.Equal(t, models.TypeCoordination, rec.sent[0].Type)

	_, err = s.SignalReady(ctx, b.ID, "a")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestBarrierValidation(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.CreateBarrier(ctx, CreateBarrier{Agents: []string{"solo"}})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.CreateBarrier(ctx, CreateBarrier{Agents: []string{"dup", "dup"}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	b, err := s.CreateBarrier(ctx, CreateBarrier{Agents: []string{"a", "b"}, Channel: "ops"})
	require.NoError(t, err)
	_, err = s.SignalReady(ctx, b.ID, "intruder")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.SignalReady(ctx, b.ID, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.SignalReady(ctx, "missing", "a")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBarrierClearsExactlyOnceUnderConcurrency(t *testing.T) {
	t.Parallel()
	s, rec := newService(t)
	ctx := context.Background()
	agents := make([]string, 6)
	for i := range agents {
		agents[i] = fmt.Sprintf("agent-%d", i)
	}
	b, err := s.CreateBarrier(ctx, CreateBarrier{Agents: agents})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errc := make(chan error, len(agents))
	for _, a := range agents {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			if _, err := s.SignalReady(ctx, b.ID, a); err != nil {
				errc <- err
			}
		}(a)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	got, err := s.Barrier(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Cleared)
	assert.Len(t, rec.sent, 1, "exactly one clearing announcement")
	assert.Len(t, rec.out, len(agents))
}

func TestLockLease(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	l, err := s.Acquire(ctx, AcquireLock{Resource: "deploy", Agent: "a"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultLockTTL).UnixMilli(), l.ExpiresAt)

	_, err = s.Acquire(ctx, AcquireLock{Resource: "deploy", Agent: "b"})
	require.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, "a", errs.State(err)["locked_by"])
	assert.Equal(t, l.ExpiresAt, errs.State(err)["expires_at"])

	_, err = s.Acquire(ctx, AcquireLock{Resource: "deploy", Agent: "a"})
	assert.ErrorIs(t, err, errs.ErrConflict, "re-acquire by the holder")

	err = s.Release(ctx, "deploy", "b")
	assert.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, s.Release(ctx, "deploy", "a"))
	assert.ErrorIs(t, s.Release(ctx, "deploy", "a"), errs.ErrNotFound)

	_, err = s.Acquire(ctx, AcquireLock{Resource: "deploy", Agent: "b", TTLSeconds: 10})
	require.NoError(t, err)
}

func TestLockExpiryIsLazy(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	_, err := s.Acquire(ctx, AcquireLock{Resource: "db", Agent: "a", TTLSeconds: 5})
	require.NoError(t, err)
	_, err = s.Acquire(ctx, AcquireLock{Resource: "cache", Agent: "a", TTLSeconds: 60})
	require.NoError(t, err)

	now = now.Add(6 * time.Second)
	locks, err := s.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "cache", locks[0].Resource)

	l, err := s.Acquire(ctx, AcquireLock{Resource: "db", Agent: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", l.Agent)

	_, err = s.Acquire(ctx, AcquireLock{Resource: "", Agent: "b"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.Acquire(ctx, AcquireLock{Resource: "x", Agent: "b", TTLSeconds: -1})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestReleaseExpiredLockOfAnotherAgent(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	_, err := s.Acquire(ctx, AcquireLock{Resource: "db", Agent: "x", TTLSeconds: 1})
	require.NoError(t, err)
	now = now.Add(5 * time.Second)

	err = s.Release(ctx, "db", "y")
	require.ErrorIs(t, err, errs.ErrNotFound, "an expired lease names no holder")
	assert.NotErrorIs(t, err, errs.ErrConflict)
	assert.ErrorIs(t, s.Release(ctx, "never-held", "y"), errs.ErrNotFound)

	_, err = s.Acquire(ctx, AcquireLock{Resource: "db", Agent: "y"})
	require.NoError(t, err)
}
