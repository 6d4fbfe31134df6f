package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func ptr[T any](v T) *T { return &v }

func TestMigrationsSeedGeneralChannel(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	ch, err := st.GetChannel(ctx, "general")
	if err != nil {
		t.Fatalf("GetChannel general: %v", err)
	}
	if ch.Private {
		t.Fatal("general must be public")
	}
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := EnsureSchema(home); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := EnsureSchema(home); err != nil {
		t.Fatalf("EnsureSchema second run: %v", err)
	}
}

func TestAgentUpsertAndLoadFloor(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, err := st.UpsertAgent(ctx, Agent{ID: "a1", Name: "Alpha", Capabilities: []string{"go", "sql"}})
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if a.Name != "Alpha" || len(a.Capabilities) != 2 || a.LastSeenAt == nil {
		t.Fatalf("unexpected agent %+v", a)
	}
	if err := st.AdjustAgentLoad(ctx, "a1", 1); err != nil {
		t.Fatalf("AdjustAgentLoad: %v", err)
	}
	a, _ = st.UpsertAgent(ctx, Agent{ID: "a1", Name: "Alpha2"})
	if a.Name != "Alpha2" || a.CurrentLoad != 1 {
		t.Fatalf("re-register must keep load: %+v", a)
	}
	for i := 0; i < 3; i++ {
		if err := st.AdjustAgentLoad(ctx, "a1", -1); err != nil {
			t.Fatalf("AdjustAgentLoad: %v", err)
		}
	}
	a, _ = st.GetAgent(ctx, "a1")
	if a.CurrentLoad != 0 {
		t.Fatalf("load must floor at 0, got %d", a.CurrentLoad)
	}

	if _, err := st.GetAgent(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetAgent unknown: %v", err)
	}
	ok, err := st.TouchAgent(ctx, "nope", time.Now())
	if err != nil || ok {
		t.Fatalf("TouchAgent unknown: ok=%v err=%v", ok, err)
	}
}

func TestUnreadBacklogOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	msgs := []Message{
		{ID: "m1", FromAgent: "x", Channel: "general", Type: "chat", Content: "first", Priority: "normal", CreatedAt: base},
		{ID: "m2", FromAgent: "x", ToAgent: ptr("b"), Channel: "general", Type: "chat", Content: "urgent", Priority: "urgent", CreatedAt: base.Add(time.Second)},
		{ID: "m3", FromAgent: "b", Channel: "general", Type: "chat", Content: "own", Priority: "high", CreatedAt: base.Add(2 * time.Second)},
		{ID: "m4", FromAgent: "x", ToAgent: ptr("c"), Channel: "general", Type: "chat", Content: "other", Priority: "normal", CreatedAt: base},
		{ID: "m5", FromAgent: "x", Channel: "general", Type: "chat", Content: "expired", Priority: "high", CreatedAt: base, ExpiresAt: ptr(base.Add(time.Second))},
		{ID: "m6", FromAgent: "x", Channel: "general", Type: "chat", Content: "low", Priority: "low", CreatedAt: base},
	}
	for _, m := range msgs {
		if err := st.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage %s: %v", m.ID, err)
		}
	}
	got, err := st.ListUnread(ctx, "b", time.Now())
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	want := []string{"m2", "m1", "m6"}
	if len(got) != len(want) {
		t.Fatalf("ListUnread: got %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("ListUnread[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	n, err := st.CountUnread(ctx, "b", time.Now())
	if err != nil || n != 3 {
		t.Fatalf("CountUnread = %d, %v", n, err)
	}

	if err := st.MarkRead(ctx, "m2", time.Now()); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n, _ := st.CountUnread(ctx, "b", time.Now()); n != 2 {
		t.Fatalf("CountUnread after read = %d", n)
	}
	if err := st.MarkRead(ctx, "missing", time.Now()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("MarkRead missing: %v", err)
	}
}

func TestClaimAndCompleteAreConditional(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.InsertTask(ctx, Task{ID: "t1", Title: "build", CreatedBy: "x", Status: "pending", Priority: "normal", Channel: "general", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	ok, err := st.ClaimTask(ctx, "t1", "a1", now)
	if err != nil || !ok {
		t.Fatalf("ClaimTask: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.ClaimTask(ctx, "t1", "a2", now); ok {
		t.Fatal("second claim must fail")
	}
	if ok, _ := st.CompleteTask(ctx, "t1", now); !ok {
		t.Fatal("CompleteTask should succeed")
	}
	if ok, _ := st.CompleteTask(ctx, "t1", now); ok {
		t.Fatal("second complete must fail")
	}

	n, err := st.ArchiveDoneBefore(ctx, now.Add(time.Second), now)
	if err != nil || n != 1 {
		t.Fatalf("ArchiveDoneBefore = %d, %v", n, err)
	}
	list, _ := st.ListTasks(ctx, TaskFilter{})
	if len(list) != 0 {
		t.Fatalf("archived tasks must be hidden by default, got %d", len(list))
	}
	list, _ = st.ListTasks(ctx, TaskFilter{IncludeArchived: true})
	if len(list) != 1 || list[0].Status != "archived" {
		t.Fatalf("IncludeArchived: %+v", list)
	}
}

func TestBarrierClearsOnce(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.CreateBarrier(ctx, Barrier{ID: "b1", Participants: []string{"a", "b"}, Channel: "general", CreatedAt: now}); err != nil {
		t.Fatalf("CreateBarrier: %v", err)
	}
	if added, _ := st.AddBarrierReady(ctx, "b1", "a", now); !added {
		t.Fatal("first ready should add")
	}
	if added, _ := st.AddBarrierReady(ctx, "b1", "a", now); added {
		t.Fatal("repeat ready must not add")
	}
	if cleared, _ := st.ClearBarrier(ctx, "b1", now); cleared {
		t.Fatal("barrier cleared before all ready")
	}
	_, _ = st.AddBarrierReady(ctx, "b1", "b", now)
	if cleared, _ := st.ClearBarrier(ctx, "b1", now); !cleared {
		t.Fatal("barrier should clear")
	}
	if cleared, _ := st.ClearBarrier(ctx, "b1", now); cleared {
		t.Fatal("barrier must clear exactly once")
	}
	b, err := st.GetBarrier(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBarrier: %v", err)
	}
	if !b.Cleared || len(b.Ready) != 2 || b.Participants[0] != "a" || len(b.Remaining()) != 0 {
		t.Fatalf("unexpected barrier %+v", b)
	}
}

func TestLockLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	ok, err := st.InsertLock(ctx, Lock{Resource: "r", Agent: "x", AcquiredAt: now, ExpiresAt: now.Add(time.Second)})
	if err != nil || !ok {
		t.Fatalf("InsertLock: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.InsertLock(ctx, Lock{Resource: "r", Agent: "y", AcquiredAt: now, ExpiresAt: now.Add(time.Second)}); ok {
		t.Fatal("second insert must fail while held")
	}
	if n, _ := st.PurgeExpiredLocks(ctx, "r", now); n != 0 {
		t.Fatal("unexpired lock purged")
	}
	if n, _ := st.PurgeExpiredLocks(ctx, "r", now.Add(2*time.Second)); n != 1 {
		t.Fatal("expired lock not purged")
	}
	_, _ = st.InsertLock(ctx, Lock{Resource: "r", Agent: "y", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)})
	if ok, _ := st.DeleteLock(ctx, "r", "x"); ok {
		t.Fatal("non-holder release must not delete")
	}
	if ok, _ := st.DeleteLock(ctx, "r", "y"); !ok {
		t.Fatal("holder release should delete")
	}
	if _, err := st.GetLock(ctx, "r"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetLock after release: %v", err)
	}
}

func TestWorkflowStepTransitions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	w := Workflow{ID: "w1", Name: "ship", Channel: "general", CreatedBy: "x", Status: "draft",
		Steps: []StepDef{{Name: "build"}, {Name: "test", DependsOnStep: ptr(0)}}, CreatedAt: now, UpdatedAt: now}
	steps := []WorkflowStep{
		{ID: "s0", Index: 0, Name: "build", Status: "pending"},
		{ID: "s1", Index: 1, Name: "test", DependsOnStep: ptr(0), Status: "pending"},
	}
	if err := st.CreateWorkflow(ctx, w, steps); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	got, err := st.ListSteps(ctx, "w1")
	if err != nil || len(got) != 2 {
		t.Fatalf("ListSteps: %v %+v", err, got)
	}
	if got[1].DependsOnStep == nil || *got[1].DependsOnStep != 0 {
		t.Fatalf("depends_on_step not persisted: %+v", got[1])
	}
	if ok, _ := st.TransitionWorkflow(ctx, "w1", []string{"draft"}, "active", now); !ok {
		t.Fatal("draft -> active should succeed")
	}
	if ok, _ := st.TransitionWorkflow(ctx, "w1", []string{"draft"}, "active", now); ok {
		t.Fatal("active -> active from draft must fail")
	}
	if ok, _ := st.ActivateStep(ctx, "s0", now); !ok {
		t.Fatal("ActivateStep s0")
	}
	if ok, _ := st.CompleteStep(ctx, "s0", ptr("built"), now); !ok {
		t.Fatal("CompleteStep s0")
	}
	if ok, _ := st.CompleteStep(ctx, "s0", nil, now); ok {
		t.Fatal("CompleteStep twice must fail")
	}
	if err := st.AssignStep(ctx, "w1", "s1", "a2"); err != nil {
		t.Fatalf("AssignStep: %v", err)
	}
	s1, _ := st.GetStep(ctx, "w1", "s1")
	if s1.AssignedTo == nil || *s1.AssignedTo != "a2" || s1.Status != "pending" {
		t.Fatalf("AssignStep result %+v", s1)
	}
}

func TestPresenceUpsertKeepsUnsetFields(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.UpsertPresence(ctx, "a", PresencePatch{StatusText: ptr("coding"), Mood: ptr("focused")}, now); err != nil {
		t.Fatalf("UpsertPresence: %v", err)
	}
	p, err := st.GetPresence(ctx, "a")
	if err != nil {
		t.Fatalf("GetPresence: %v", err)
	}
	if p.Status != "online" || p.StatusText == nil || *p.StatusText != "coding" {
		t.Fatalf("unexpected presence %+v", p)
	}
	if err := st.UpsertPresence(ctx, "a", PresencePatch{Status: ptr("busy")}, now.Add(time.Second)); err != nil {
		t.Fatalf("UpsertPresence: %v", err)
	}
	p, _ = st.GetPresence(ctx, "a")
	if p.Status != "busy" || p.Mood == nil || *p.Mood != "focused" {
		t.Fatalf("partial update lost fields: %+v", p)
	}
	for i := 0; i < 3; i++ {
		_ = st.InsertActivity(ctx, Activity{ID: NewID(), AgentID: "a", Activity: "step", At: now.Add(time.Duration(i) * time.Second)})
	}
	acts, err := st.ListActivity(ctx, "a", 2)
	if err != nil || len(acts) != 2 {
		t.Fatalf("ListActivity: %v %d", err, len(acts))
	}
	if !acts[0].At.After(acts[1].At) {
		t.Fatal("activity must be most recent first")
	}
}

func TestRebindPostgres(t *testing.T) {
	t.Parallel()
	s := &sqlStore{dialect: DialectPostgres}
	if got := s.rebind(`SELECT * FROM t WHERE a = ? AND b IN (?, ?)`); got != `SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)` {
		t.Fatalf("rebind = %q", got)
	}
	s.dialect = DialectSQLite
	if got := s.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func TestEventsAndSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, typ := range []string{"deploy", "build", "deploy"} {
		e := Event{ID: NewID(), Type: typ, SourceAgent: "ci", Payload: []byte(`{"n":1}`), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := st.InsertEvent(ctx, e); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}
	deploys, err := st.ListEvents(ctx, EventFilter{Type: "deploy"})
	if err != nil || len(deploys) != 2 {
		t.Fatalf("ListEvents deploy = %d, %v", len(deploys), err)
	}
	if !deploys[0].CreatedAt.After(deploys[1].CreatedAt) || string(deploys[0].Payload) != `{"n":1}` || deploys[0].Channel != nil {
		t.Fatalf("deploys = %+v", deploys)
	}
	recent, _ := st.ListEvents(ctx, EventFilter{Since: base.Add(time.Second), Limit: 1})
	if len(recent) != 1 || recent[0].Type != "deploy" {
		t.Fatalf("since/limit = %+v", recent)
	}
	if n, _ := st.PurgeEvents(ctx, base.Add(time.Second)); n != 1 {
		t.Fatalf("PurgeEvents = %d, want 1", n)
	}

	sub := EventSubscription{ID: NewID(), AgentID: "a", EventType: "deploy", Filter: []byte(`{"env":"prod"}`), CreatedAt: base}
	if err := st.InsertSubscription(ctx, sub); err != nil {
		t.Fatalf("InsertSubscription: %v", err)
	}
	if subs, _ := st.ListSubscriptions(ctx, "", "deploy"); len(subs) != 1 || string(subs[0].Filter) != `{"env":"prod"}` {
		t.Fatalf("subs by type = %+v", subs)
	}
	if subs, _ := st.ListSubscriptions(ctx, "b", ""); len(subs) != 0 {
		t.Fatalf("subs for b = %+v", subs)
	}
	if err := st.DeleteSubscription(ctx, sub.ID, "b"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("delete by non-owner: %v", err)
	}
	if err := st.DeleteSubscription(ctx, sub.ID, "a"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
}
