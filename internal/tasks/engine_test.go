package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

type fakePub struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (p *fakePub) Publish(_ context.Context, ev fanout.Event, _ fanout.Target) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *fakePub) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

type fakeMsg struct {
	mu   sync.Mutex
	sent []models.SendMessage
}

func (m *fakeMsg) Send(_ context.Context, in models.SendMessage) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, in)
	return &models.Message{ID: "m", Content: in.Content}, nil
}

func (m *fakeMsg) to(agent string) []models.SendMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SendMessage
	for _, s := range m.sent {
		if s.ToAgent != nil && *s.ToAgent == agent {
			out = append(out, s)
		}
	}
	return out
}

func newEngine(t *testing.T) (*Engine, *fakePub, *fakeMsg) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	pub, msg := &fakePub{}, &fakeMsg{}
	return New(st, pub, msg), pub, msg
}

func register(t *testing.T, e *Engine, id string, caps ...string) {
	t.Helper()
	if _, err := e.Store.UpsertAgent(context.Background(), store.Agent{ID: id, Name: id, Capabilities: caps}); err != nil {
		t.Fatalf("UpsertAgent %s: %v", id, err)
	}
}

func load(t *testing.T, e *Engine, id string) int {
	t.Helper()
	a, err := e.Store.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAgent %s: %v", id, err)
	}
	return a.CurrentLoad
}

func mustCreate(t *testing.T, e *Engine, in models.CreateTask) *models.Task {
	t.Helper()
	if in.CreatedBy == "" {
		in.CreatedBy = "lead"
	}
	task, err := e.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create %s: %v", in.Title, err)
	}
	return task
}

func ptr[T any](v T) *T { return &v }

func TestCreateAutoAssignsLeastLoadedCapableAgent(t *testing.T) {
	t.Parallel()
	e, pub, msg := newEngine(t)
	ctx := context.Background()
	register(t, e, "b-go", "go", "sql")
	register(t, e, "a-go", "go", "sql")
	register(t, e, "c-py", "python")
	if err := e.Store.AdjustAgentLoad(ctx, "a-go", 2); err != nil {
		t.Fatal(err)
	}

	task := mustCreate(t, e, models.CreateTask{Title: "migrate", RequiredCapabilities: []string{"go", "sql"}, Priority: "medium"})
	if task.AssignedTo == nil || *task.AssignedTo != "b-go" || !task.AutoAssigned {
		t.Fatalf("assigned_to = %v auto = %v, want b-go", task.AssignedTo, task.AutoAssigned)
	}
	if task.Priority != models.PriorityNormal {
		t.Fatalf("priority = %s, want normal", task.Priority)
	}
	if got := load(t, e, "b-go"); got != 1 {
		t.Fatalf("b-go load = %d, want 1", got)
	}

	// Equal load: ties go to the lower id.
	register(t, e, "z-rs", "rust")
	register(t, e, "y-rs", "rust")
	tie := mustCreate(t, e, models.CreateTask{Title: "tie", RequiredCapabilities: []string{"rust"}})
	if tie.AssignedTo == nil || *tie.AssignedTo != "y-rs" {
		t.Fatalf("tie assigned to %v, want y-rs", tie.AssignedTo)
	}

	none := mustCreate(t, e, models.CreateTask{Title: "cobol", RequiredCapabilities: []string{"cobol"}})
	if none.AssignedTo != nil || none.AutoAssigned {
		t.Fatalf("expected unassigned task, got %v", *none.AssignedTo)
	}

	if names := pub.names(); len(names) != 3 || names[0] != models.EventTaskCreated {
		t.Fatalf("events = %v", names)
	}
	if len(msg.sent) != 3 || msg.sent[0].FromAgent != models.SystemAgent || msg.sent[0].ToAgent != nil {
		t.Fatalf("creation messages = %+v", msg.sent)
	}

	if _, err := e.Create(ctx, models.CreateTask{Title: "x"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing created_by: %v", err)
	}
	if _, err := e.Create(ctx, models.CreateTask{Title: "x", CreatedBy: "y", Priority: "asap"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad priority: %v", err)
	}
}

func TestClaimIsConditional(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	register(t, e, "x")
	register(t, e, "y")
	task := mustCreate(t, e, models.CreateTask{Title: "t"})

	got, err := e.Claim(ctx, task.ID, "x")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.Status != models.TaskInProgress || *got.AssignedTo != "x" {
		t.Fatalf("claimed = %+v", got)
	}
	if load(t, e, "x") != 1 {
		t.Fatalf("x load = %d, want 1", load(t, e, "x"))
	}

	_, err = e.Claim(ctx, task.ID, "y")
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second claim: %v", err)
	}
	if st := errs.State(err); st["status"] != models.TaskInProgress || st["assigned_to"] != "x" {
		t.Fatalf("conflict state = %v", st)
	}
	if load(t, e, "y") != 0 {
		t.Fatal("rejected claim changed load")
	}
	if _, err := e.Claim(ctx, "nope", "y"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown task: %v", err)
	}
}

func TestCompleteReleasesLoadAndNotifiesDependents(t *testing.T) {
	t.Parallel()
	e, pub, msg := newEngine(t)
	ctx := context.Background()
	register(t, e, "x")
	register(t, e, "y")

	base := mustCreate(t, e, models.CreateTask{Title: "schema"})
	dep := mustCreate(t, e, models.CreateTask{Title: "api", AssignedTo: ptr("y"), DependsOn: []string{base.ID}})
	_ = mustCreate(t, e, models.CreateTask{Title: "docs", DependsOn: []string{base.ID}})
	if _, err := e.Claim(ctx, base.ID, "x"); err != nil {
		t.Fatal(err)
	}

	done, err := e.Complete(ctx, base.ID, "", ptr("ok"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != models.TaskDone || done.CompletedAt == nil {
		t.Fatalf("completed = %+v", done)
	}
	if load(t, e, "x") != 0 {
		t.Fatalf("x load = %d, want 0", load(t, e, "x"))
	}

	notes := msg.to("y")
	if len(notes) != 1 || notes[0].Priority != models.PriorityHigh || notes[0].Type != models.TypeCoordination {
		t.Fatalf("dependent notifications = %+v", notes)
	}
	cur, _ := e.Store.GetTask(ctx, dep.ID)
	if cur.Status != models.TaskPending {
		t.Fatalf("dependent status changed to %s", cur.Status)
	}

	if _, err := e.Complete(ctx, base.ID, "", nil); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second complete: %v", err)
	}
	if load(t, e, "x") != 0 {
		t.Fatal("load went negative or changed on rejected completion")
	}
	names := pub.names()
	if names[len(names)-1] != models.EventTaskCompleted {
		t.Fatalf("last event = %s", names[len(names)-1])
	}
}

func TestLoadFloorsAtZero(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	register(t, e, "x")
	task := mustCreate(t, e, models.CreateTask{Title: "t"})
	// Assigned behind the engine's back: completion must not drive load negative.
	if err := e.Store.UpdateTask(ctx, task.ID, store.TaskPatch{AssignedTo: ptr("x")}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Complete(ctx, task.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	if load(t, e, "x") != 0 {
		t.Fatalf("load = %d, want 0", load(t, e, "x"))
	}
}

func TestReadyAndBlocked(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, models.CreateTask{Title: "a"})
	b := mustCreate(t, e, models.CreateTask{Title: "b"})
	c := mustCreate(t, e, models.CreateTask{Title: "c", DependsOn: []string{a.ID, b.ID}})
	d := mustCreate(t, e, models.CreateTask{Title: "d", DependsOn: []string{"missing"}})

	if _, err := e.Complete(ctx, a.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	ready, err := e.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ids := taskIDs(ready); len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("ready = %v, want [b]", ids)
	}
	blocked, err := e.Blocked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string][2]int{}
	for _, bt := range blocked {
		counts[bt.ID] = [2]int{bt.UnmetDeps, bt.TotalDeps}
	}
	if counts[c.ID] != [2]int{1, 2} || counts[d.ID] != [2]int{1, 1} || len(counts) != 2 {
		t.Fatalf("blocked = %v", counts)
	}

	if _, err := e.Complete(ctx, b.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	ready, _ = e.Ready(ctx)
	if ids := taskIDs(ready); len(ids) != 1 || ids[0] != c.ID {
		t.Fatalf("ready after b = %v, want [c]", ids)
	}
}

func taskIDs(ts []models.Task) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestArchiveSweepAndStaleFlag(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	now := time.Now()
	e.Now = func() time.Time { return now }

	old := mustCreate(t, e, models.CreateTask{Title: "old"})
	idle := mustCreate(t, e, models.CreateTask{Title: "idle"})
	if _, err := e.Complete(ctx, old.ID, "", nil); err != nil {
		t.Fatal(err)
	}

	now = now.Add(25 * time.Hour)
	list, err := e.List(ctx, store.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != idle.ID || !list[0].Stale {
		t.Fatalf("list = %+v", list)
	}
	archived, err := e.Archived(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].ID != old.ID {
		t.Fatalf("archived = %+v", archived)
	}
	all, _ := e.List(ctx, store.TaskFilter{IncludeArchived: true})
	if len(all) != 2 {
		t.Fatalf("include_archived = %d tasks", len(all))
	}
}

func TestUpdateStatusRules(t *testing.T) {
	t.Parallel()
	e, pub, _ := newEngine(t)
	ctx := context.Background()
	register(t, e, "x")
	task := mustCreate(t, e, models.CreateTask{Title: "t", AssignedTo: ptr("x")})

	if _, err := e.Update(ctx, task.ID, models.UpdateTask{Status: ptr(models.TaskInProgress)}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("in_progress via update: %v", err)
	}
	got, err := e.Update(ctx, task.ID, models.UpdateTask{Title: ptr("renamed"), Status: ptr(models.TaskDone), UpdatedBy: "x"})
	if err != nil {
		t.Fatalf("Update done: %v", err)
	}
	if got.Status != models.TaskDone || got.Title != "renamed" {
		t.Fatalf("updated = %+v", got)
	}
	if load(t, e, "x") != 0 {
		t.Fatal("done via update did not release load")
	}
	names := pub.names()
	if names[len(names)-1] != models.EventTaskCompleted {
		t.Fatalf("done via update did not announce: %v", names)
	}
	if _, err := e.Update(ctx, task.ID, models.UpdateTask{Status: ptr(models.TaskPending)}); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("done -> pending: %v", err)
	}
	if _, err := e.Update(ctx, task.ID, models.UpdateTask{Title: ptr("again"), Status: ptr(models.TaskDone)}); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("done twice: %v", err)
	}
	cur, _ := e.Store.GetTask(ctx, task.ID)
	if cur.Title != "renamed" {
		t.Fatal("rejected update wrote fields")
	}
	if _, err := e.Update(ctx, "nope", models.UpdateTask{Title: ptr("x")}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestFailingHookDoesNotUndoCompletion(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	var ran []string
	e.OnComplete = []Hook{
		func(context.Context, Completion) error { ran = append(ran, "first"); return errors.New("boom") },
		func(context.Context, Completion) error { ran = append(ran, "second"); return nil },
	}
	task := mustCreate(t, e, models.CreateTask{Title: "t"})
	if _, err := e.Complete(ctx, task.ID, "", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	cur, _ := e.Store.GetTask(ctx, task.ID)
	if cur.Status != models.TaskDone || len(ran) != 2 {
		t.Fatalf("status = %s hooks = %v", cur.Status, ran)
	}
}

func TestDelegationOutcomes(t *testing.T) {
	t.Parallel()
	e, _, msg := newEngine(t)
	ctx := context.Background()
	ok := mustCreate(t, e, models.CreateTask{Title: "ok"})
	bad := mustCreate(t, e, models.CreateTask{Title: "bad"})

	if _, err := e.Delegate(ctx, CreateDelegation{TaskID: "nope", ParentAgent: "p", SubAgentID: "s", SubAgentLabel: "l"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown task: %v", err)
	}
	d1, err := e.Delegate(ctx, CreateDelegation{TaskID: ok.ID, ParentAgent: "p", SubAgentID: "s1", SubAgentLabel: "worker-1"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	d2, err := e.Delegate(ctx, CreateDelegation{TaskID: bad.ID, ParentAgent: "p", SubAgentID: "s2", SubAgentLabel: "worker-2"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	active, _ := e.Delegations(ctx, store.DelegationFilter{Status: models.DelegationRunning})
	if len(active) != 2 {
		t.Fatalf("active = %d", len(active))
	}

	got, err := e.UpdateDelegation(ctx, d1.ID, UpdateDelegation{Status: models.DelegationCompleted, Result: ptr("merged")})
	if err != nil {
		t.Fatalf("complete delegation: %v", err)
	}
	if got.Status != models.DelegationCompleted || got.CompletedAt == nil {
		t.Fatalf("delegation = %+v", got)
	}
	if cur, _ := e.Store.GetTask(ctx, ok.ID); cur.Status != models.TaskDone {
		t.Fatalf("parent task status = %s", cur.Status)
	}

	if _, err := e.UpdateDelegation(ctx, d2.ID, UpdateDelegation{Status: models.DelegationFailed, Error: ptr("crashed")}); err != nil {
		t.Fatalf("fail delegation: %v", err)
	}
	if cur, _ := e.Store.GetTask(ctx, bad.ID); cur.Status != models.TaskBlocked {
		t.Fatalf("failed parent status = %s", cur.Status)
	}
	if _, err := e.UpdateDelegation(ctx, d2.ID, UpdateDelegation{Status: "paused"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad status: %v", err)
	}

	delegationMsgs := 0
	for _, m := range msg.sent {
		if m.Type == models.TypeDelegation {
			delegationMsgs++
		}
	}
	if delegationMsgs != 4 {
		t.Fatalf("delegation messages = %d, want 4", delegationMsgs)
	}
}

func TestUpdateReassignMovesLoad(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()
	register(t, e, "a")
	register(t, e, "b")

	task := mustCreate(t, e, models.CreateTask{Title: "migrate", AssignedTo: ptr("a")})
	if load(t, e, "a") != 1 || load(t, e, "b") != 0 {
		t.Fatalf("after create: a=%d b=%d", load(t, e, "a"), load(t, e, "b"))
	}
	if _, err := e.Update(ctx, task.ID, models.UpdateTask{AssignedTo: ptr("b")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if load(t, e, "a") != 0 || load(t, e, "b") != 1 {
		t.Fatalf("after reassign: a=%d b=%d", load(t, e, "a"), load(t, e, "b"))
	}
	if _, err := e.Complete(ctx, task.ID, "", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if load(t, e, "a") != 0 || load(t, e, "b") != 0 {
		t.Fatalf("after complete: a=%d b=%d", load(t, e, "a"), load(t, e, "b"))
	}

	other := mustCreate(t, e, models.CreateTask{Title: "cleanup", AssignedTo: ptr("a")})
	if _, err := e.Update(ctx, other.ID, models.UpdateTask{Status: ptr(models.TaskArchived)}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if load(t, e, "a") != 0 {
		t.Fatalf("archived open task still holds load: a=%d", load(t, e, "a"))
	}
}

func TestTaskEventsCarryChannel(t *testing.T) {
	t.Parallel()
	e, pub, _ := newEngine(t)
	ctx := context.Background()
	register(t, e, "x")
	task := mustCreate(t, e, models.CreateTask{Title: "t", Channel: "ops"})
	if _, err := e.Claim(ctx, task.ID, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Complete(ctx, task.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 3 {
		t.Fatalf("events = %d, want 3", len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.Channel != "ops" {
			t.Fatalf("%s channel = %q, want ops", ev.Name, ev.Channel)
		}
	}
}
