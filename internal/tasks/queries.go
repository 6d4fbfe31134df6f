package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// Sweep archives tasks that have been done for longer than ArchiveAfter.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	now := e.Now()
	n, err := e.Store.ArchiveDoneBefore(ctx, now.Add(-e.ArchiveAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		otel.RecordTaskOp(ctx, "archive", models.TaskArchived)
	}
	return n, nil
}

func (e *Engine) sweep(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil {
		slog.Warn("task archive sweep failed", "err", err)
	}
}

func (e *Engine) annotate(rows []store.Task) []models.Task {
	now := e.Now()
	out := make([]models.Task, 0, len(rows))
	for _, t := range rows {
		m := store.TaskModel(t)
		m.Stale = t.Status == models.TaskPending && t.AssignedTo == nil && now.Sub(t.CreatedAt) > e.StaleAfter
		out = append(out, m)
	}
	return out
}

// List sweeps old done tasks into the archive, then returns matching tasks
// newest first with the stale flag set.
func (e *Engine) List(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	e.sweep(ctx)
	if f.Status != "" && !models.ValidTaskStatus(f.Status) {
		return nil, errs.Invalid("unknown status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > models.DefaultTaskListLimit {
		f.Limit = models.DefaultTaskListLimit
	}
	rows, err := e.Store.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	return e.annotate(rows), nil
}

// Archived lists archived tasks, optionally for one channel.
func (e *Engine) Archived(ctx context.Context, channel string) ([]models.Task, error) {
	return e.List(ctx, store.TaskFilter{Status: models.TaskArchived, Channel: channel})
}

// Mine lists the agent's non-archived tasks.
func (e *Engine) Mine(ctx context.Context, agentID string) ([]models.Task, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent is required")
	}
	return e.List(ctx, store.TaskFilter{AssignedTo: agentID})
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	out := e.annotate([]store.Task{*t})[0]
	return &out, nil
}

// depState loads every task's status keyed by id. Archived tasks were done
// before they were archived, so they satisfy dependencies.
func (e *Engine) depState(ctx context.Context) ([]store.Task, map[string]bool, error) {
	all, err := e.Store.ListTasks(ctx, store.TaskFilter{IncludeArchived: true})
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(all))
	for _, t := range all {
		done[t.ID] = t.Status == models.TaskDone || t.Status == models.TaskArchived
	}
	return all, done, nil
}

func unmet(t store.Task, done map[string]bool) []string {
	out := []string{}
	for _, d := range t.DependsOn {
		if !done[d] {
			out = append(out, d)
		}
	}
	return out
}

// Ready returns pending tasks whose dependencies are all done, oldest first.
func (e *Engine) Ready(ctx context.Context) ([]models.Task, error) {
	all, done, err := e.depState(ctx)
	if err != nil {
		return nil, err
	}
	var ready []store.Task
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if t.Status == models.TaskPending && len(unmet(t, done)) == 0 {
			ready = append(ready, t)
		}
	}
	return e.annotate(ready), nil
}

// Blocked returns open tasks with at least one unmet dependency, oldest first.
func (e *Engine) Blocked(ctx context.Context) ([]models.BlockedTask, error) {
	all, done, err := e.depState(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.BlockedTask{}
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if t.Status == models.TaskDone || t.Status == models.TaskArchived {
			continue
		}
		missing := unmet(t, done)
		if len(missing) == 0 {
			continue
		}
		out = append(out, models.BlockedTask{
			Task:         e.annotate([]store.Task{t})[0],
			BlockingDeps: missing,
			UnmetDeps:    len(missing),
			TotalDeps:    len(t.DependsOn),
		})
	}
	return out, nil
}

// Update applies a partial update. Setting status done goes through Complete;
// in_progress is only reachable by Claim, and done or archived tasks only move
// from done to archived.
func (e *Engine) Update(ctx context.Context, id string, in models.UpdateTask) (*models.Task, error) {
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	patch := store.TaskPatch{
		Title:       in.Title,
		Description: in.Description,
		AssignedTo:  in.AssignedTo,
		DependsOn:   in.DependsOn,
	}
	if in.Title != nil && *in.Title == "" {
		return nil, errs.Invalid("title must not be empty")
	}
	if in.Priority != nil {
		p, err := normalizePriority(*in.Priority)
		if err != nil {
			return nil, err
		}
		patch.Priority = &p
	}
	if in.Deadline != nil {
		d := time.UnixMilli(*in.Deadline)
		patch.Deadline = &d
	}
	for _, dep := range in.DependsOn {
		if dep == id {
			return nil, errs.Invalid("a task cannot depend on itself")
		}
	}
	complete := false
	if in.Status != nil {
		s := *in.Status
		switch {
		case !models.ValidTaskStatus(s):
			return nil, errs.Invalid("unknown status %q", s)
		case s == models.TaskInProgress:
			return nil, errs.Invalid("use claim to start a task")
		case s == models.TaskDone && (t.Status == models.TaskDone || t.Status == models.TaskArchived):
			return nil, conflictStatus(t, "task already completed")
		case s == models.TaskDone:
			complete = true
		case t.Status == models.TaskArchived, t.Status == models.TaskDone && s != models.TaskArchived:
			return nil, conflictStatus(t, fmt.Sprintf("cannot move task from '%s' to '%s'", t.Status, s))
		default:
			patch.Status = &s
		}
	}

	now := e.Now()
	if err := e.Store.UpdateTask(ctx, id, patch, now); err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "update", t.Status)
	if t.Status != models.TaskDone && t.Status != models.TaskArchived {
		prev := ""
		if t.AssignedTo != nil {
			prev = *t.AssignedTo
		}
		next := prev
		if in.AssignedTo != nil {
			next = *in.AssignedTo
		}
		// Archiving an open task ends its hold on the assignee.
		if patch.Status != nil && *patch.Status == models.TaskArchived {
			next = ""
		}
		e.moveLoad(ctx, id, prev, next)
	}
	if complete {
		if _, err := e.Complete(ctx, id, in.UpdatedBy, nil); err != nil {
			return nil, err
		}
	}
	cur, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status != nil {
		by := in.UpdatedBy
		if by == "" {
			by = models.SystemAgent
		}
		e.post(ctx, models.SendMessage{
			FromAgent: by,
			Channel:   cur.Channel,
			Type:      models.TypeTask,
			Content:   fmt.Sprintf("Task %q → %s", cur.Title, *in.Status),
		}, models.TaskRef{TaskID: id})
	}
	out := e.annotate([]store.Task{*cur})[0]
	return &out, nil
}

// Block marks an open task blocked, used when delegated work fails.
func (e *Engine) Block(ctx context.Context, id string) error {
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == models.TaskDone || t.Status == models.TaskArchived {
		return conflictStatus(t, "task already completed")
	}
	if err := e.Store.SetTaskStatus(ctx, id, models.TaskBlocked, e.Now()); err != nil {
		return err
	}
	otel.RecordTaskOp(ctx, "block", models.TaskBlocked)
	return nil
}

// StatusCounts feeds the task gauge.
func (e *Engine) StatusCounts(ctx context.Context) (map[string]int64, error) {
	return e.Store.CountTasksByStatus(ctx)
}
