// Package tasks is the task engine: creation with capability-based
// auto-assignment, claim and completion as conditional single-row writes,
// dependency queries and the post-completion cascade.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

const (
	DefaultArchiveAfter = 24 * time.Hour
	DefaultStaleAfter   = 10 * time.Minute
)

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Messenger persists and delivers a message.
type Messenger interface {
	Send(ctx context.Context, in models.SendMessage) (*models.Message, error)
}

// Completion describes a task that has just been marked done.
type Completion struct {
	Task   store.Task
	By     string
	Output *string
}

// Hook runs after a completion has been committed. Errors are logged and do
// not undo the completion or stop later hooks.
type Hook func(ctx context.Context, c Completion) error

// Engine is safe for concurrent use.
type Engine struct {
	Store store.Store
	Pub   Publisher
	Msg   Messenger
	Now   func() time.Time

	ArchiveAfter time.Duration
	StaleAfter   time.Duration

	// OnComplete runs in order after every successful completion.
	OnComplete []Hook
}

func New(st store.Store, pub Publisher, msg Messenger) *Engine {
	e := &Engine{
		Store:        st,
		Pub:          pub,
		Msg:          msg,
		Now:          time.Now,
		ArchiveAfter: DefaultArchiveAfter,
		StaleAfter:   DefaultStaleAfter,
	}
	e.OnComplete = []Hook{e.releaseLoad, e.notifyDependents, e.announceCompletion}
	return e
}

// TaskEvent is the payload of task_created.
type TaskEvent struct {
	Type string      `json:"type"`
	Task models.Task `json:"task"`
}

// TransitionEvent is the payload of task_claimed and task_completed.
type TransitionEvent struct {
	Type    string  `json:"type"`
	TaskID  string  `json:"task_id"`
	AgentID string  `json:"agent_id"`
	Title   string  `json:"title"`
	Output  *string `json:"output,omitempty"`
}

// publish scopes the event to channel so private channels only reach members.
func (e *Engine) publish(ctx context.Context, name, channel string, data any) {
	if e.Pub != nil {
		e.Pub.Publish(ctx, fanout.Event{Name: name, Channel: channel, Data: data}, fanout.Broadcast(""))
	}
}

func (e *Engine) post(ctx context.Context, in models.SendMessage, meta any) {
	if e.Msg == nil {
		return
	}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err == nil {
			in.Metadata = b
		}
	}
	if _, err := e.Msg.Send(ctx, in); err != nil {
		slog.Warn("task message not posted", "channel", in.Channel, "err", err)
	}
}

func normalizePriority(p string) (string, error) {
	switch p {
	case "":
		return models.PriorityNormal, nil
	case "medium":
		return models.PriorityNormal, nil
	}
	if !models.ValidPriority(p) {
		return "", errs.Invalid("unknown priority %q", p)
	}
	return p, nil
}

// pickAgent returns the least loaded agent holding every required capability,
// breaking ties by id. Empty when nobody qualifies.
func (e *Engine) pickAgent(ctx context.Context, required []string) (string, error) {
	agents, err := e.Store.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	var best *store.Agent
	for i := range agents {
		a := &agents[i]
		if !a.HasCapabilities(required) {
			continue
		}
		if best == nil || a.CurrentLoad < best.CurrentLoad || (a.CurrentLoad == best.CurrentLoad && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return "", nil
	}
	return best.ID, nil
}

// Create validates and stores a pending task, auto-assigning it when no
// assignee is given but capabilities are.
func (e *Engine) Create(ctx context.Context, in models.CreateTask) (*models.Task, error) {
	if in.Title == "" || in.CreatedBy == "" {
		return nil, errs.Invalid("title and created_by are required")
	}
	prio, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	if in.Channel == "" {
		in.Channel = models.DefaultChannel
	}
	assignee := ""
	if in.AssignedTo != nil {
		assignee = *in.AssignedTo
	}
	auto := false
	if assignee == "" && len(in.RequiredCapabilities) > 0 {
		if assignee, err = e.pickAgent(ctx, in.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("auto-assign: %w", err)
		}
		auto = assignee != ""
	}

	now := e.Now()
	t := store.Task{
		ID:                   store.NewID(),
		Title:                in.Title,
		Description:          in.Description,
		CreatedBy:            in.CreatedBy,
		Status:               models.TaskPending,
		Priority:             prio,
		Channel:              in.Channel,
		DependsOn:            in.DependsOn,
		RequiredCapabilities: in.RequiredCapabilities,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if in.Deadline != nil {
		d := time.UnixMilli(*in.Deadline)
		t.Deadline = &d
	}
	if assignee != "" {
		t.AssignedTo = &assignee
	}
	if err := e.Store.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if assignee != "" {
		if err := e.Store.AdjustAgentLoad(ctx, assignee, 1); err != nil {
			slog.Warn("load increment failed", "agent", assignee, "task", t.ID, "err", err)
		}
	}
	otel.RecordTaskOp(ctx, "create", t.Status)

	out := store.TaskModel(t)
	out.AutoAssigned = auto
	e.publish(ctx, models.EventTaskCreated, t.Channel, TaskEvent{Type: models.EventTaskCreated, Task: out})
	e.post(ctx, models.SendMessage{
		FromAgent: models.SystemAgent,
		Channel:   t.Channel,
		Type:      models.TypeTask,
		Content:   createdText(t, auto),
	}, models.TaskRef{TaskID: t.ID, AutoAssigned: auto})
	return &out, nil
}

func createdText(t store.Task, auto bool) string {
	s := fmt.Sprintf("New task: %s", t.Title)
	if t.Description != nil && *t.Description != "" {
		s += ": " + *t.Description
	}
	if t.AssignedTo != nil {
		s += " → @" + *t.AssignedTo
		if auto {
			s += " (auto-assigned)"
		}
	}
	s += " [" + t.Priority + "]"
	if t.AssignedTo == nil {
		s += " Who's picking this up?"
	}
	return s
}

// CreateBatch creates each valid entry and skips entries failing validation.
// Any other error stops the batch.
func (e *Engine) CreateBatch(ctx context.Context, in []models.CreateTask) ([]models.Task, error) {
	if len(in) == 0 {
		return nil, errs.Invalid("tasks array is required")
	}
	out := make([]models.Task, 0, len(in))
	for _, c := range in {
		t, err := e.Create(ctx, c)
		if err != nil {
			if errors.Is(err, errs.ErrValidation) {
				continue
			}
			return out, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func conflictStatus(t *store.Task, msg string) error {
	state := map[string]any{"status": t.Status}
	if t.AssignedTo != nil {
		state["assigned_to"] = *t.AssignedTo
	}
	return errs.Conflict(msg, state)
}

// Claim moves a pending task to in_progress under agentID.
func (e *Engine) Claim(ctx context.Context, id, agentID string) (*models.Task, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent_id is required")
	}
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	ok, err := e.Store.ClaimTask(ctx, id, agentID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur, gerr := e.Store.GetTask(ctx, id); gerr == nil {
			t = cur
		}
		return nil, conflictStatus(t, fmt.Sprintf("cannot claim task in status '%s'", t.Status))
	}
	// A pre-assigned task already counts toward its assignee's load.
	prev := ""
	if t.AssignedTo != nil {
		prev = *t.AssignedTo
	}
	e.moveLoad(ctx, id, prev, agentID)
	otel.RecordTaskOp(ctx, "claim", models.TaskInProgress)

	t.Status = models.TaskInProgress
	t.AssignedTo = &agentID
	t.UpdatedAt = now
	e.publish(ctx, models.EventTaskClaimed, t.Channel, TransitionEvent{Type: models.EventTaskClaimed, TaskID: id, AgentID: agentID, Title: t.Title})
	e.post(ctx, models.SendMessage{
		FromAgent: agentID,
		Channel:   t.Channel,
		Type:      models.TypeTask,
		Content:   fmt.Sprintf("@%s claimed: %s", agentID, t.Title),
	}, models.TaskRef{TaskID: id})
	out := store.TaskModel(*t)
	return &out, nil
}

// Complete marks a task done and runs the completion hooks. by defaults to the
// assignee, then to the system agent.
func (e *Engine) Complete(ctx context.Context, id, by string, output *string) (*models.Task, error) {
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	ok, err := e.Store.CompleteTask(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur, gerr := e.Store.GetTask(ctx, id); gerr == nil {
			t = cur
		}
		return nil, conflictStatus(t, "task already completed")
	}
	otel.RecordTaskOp(ctx, "complete", models.TaskDone)
	t.Status = models.TaskDone
	t.CompletedAt = &now
	t.UpdatedAt = now
	if by == "" {
		by = models.SystemAgent
		if t.AssignedTo != nil {
			by = *t.AssignedTo
		}
	}
	e.runHooks(ctx, Completion{Task: *t, By: by, Output: output})
	out := store.TaskModel(*t)
	return &out, nil
}

// moveLoad shifts one unit of load for task id from prev to next. Either may be
// empty.
func (e *Engine) moveLoad(ctx context.Context, id, prev, next string) {
	if prev == next {
		return
	}
	if prev != "" {
		if err := e.Store.AdjustAgentLoad(ctx, prev, -1); err != nil {
			slog.Warn("load decrement failed", "agent", prev, "task", id, "err", err)
		}
	}
	if next != "" {
		if err := e.Store.AdjustAgentLoad(ctx, next, 1); err != nil {
			slog.Warn("load increment failed", "agent", next, "task", id, "err", err)
		}
	}
}

func (e *Engine) runHooks(ctx context.Context, c Completion) {
	for _, h := range e.OnComplete {
		if err := h(ctx, c); err != nil {
			slog.Warn("completion hook failed", "task", c.Task.ID, "err", err)
		}
	}
}

func (e *Engine) releaseLoad(ctx context.Context, c Completion) error {
	if c.Task.AssignedTo == nil {
		return nil
	}
	return e.Store.AdjustAgentLoad(ctx, *c.Task.AssignedTo, -1)
}

// notifyDependents tells the assignee of every open task that depends on the
// completed one. Dependent statuses are not changed.
func (e *Engine) notifyDependents(ctx context.Context, c Completion) error {
	all, err := e.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	for _, d := range all {
		if d.Status == models.TaskDone || d.AssignedTo == nil || !contains(d.DependsOn, c.Task.ID) {
			continue
		}
		e.post(ctx, models.SendMessage{
			FromAgent: models.SystemAgent,
			ToAgent:   d.AssignedTo,
			Channel:   d.Channel,
			Type:      models.TypeCoordination,
			Priority:  models.PriorityHigh,
			Content:   fmt.Sprintf("Dependency resolved: %q is done. Your task %q may be unblocked.", c.Task.Title, d.Title),
		}, models.TaskRef{TaskID: d.ID, UnblockedBy: c.Task.ID})
	}
	return nil
}

func (e *Engine) announceCompletion(ctx context.Context, c Completion) error {
	e.publish(ctx, models.EventTaskCompleted, c.Task.Channel, TransitionEvent{
		Type:    models.EventTaskCompleted,
		TaskID:  c.Task.ID,
		AgentID: c.By,
		Title:   c.Task.Title,
		Output:  c.Output,
	})
	e.post(ctx, models.SendMessage{
		FromAgent: c.By,
		Channel:   c.Task.Channel,
		Type:      models.TypeTask,
		Content:   fmt.Sprintf("@%s completed: %s", c.By, c.Task.Title),
	}, models.TaskRef{TaskID: c.Task.ID})
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
