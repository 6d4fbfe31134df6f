package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const taskColumns = `id, title, description, assigned_to, created_by, status, priority, channel, depends_on, deadline, required_capabilities, created_at, updated_at, completed_at`

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                    Task
		desc, assigned       sql.NullString
		deps, caps           string
		deadline, completed  sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Title, &desc, &assigned, &t.CreatedBy, &t.Status, &t.Priority, &t.Channel,
		&deps, &deadline, &caps, &createdAt, &updatedAt, &completed); err != nil {
		return nil, err
	}
	t.Description = strPtr(desc)
	t.AssignedTo = strPtr(assigned)
	t.DependsOn = decodeList(deps)
	t.Deadline = timePtr(deadline)
	t.RequiredCapabilities = decodeList(caps)
	t.CreatedAt = fromMS(createdAt)
	t.UpdatedAt = fromMS(updatedAt)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

func (s *sqlStore) InsertTask(ctx context.Context, t Task) error {
	_, err := s.exec(ctx, `
INSERT INTO tasks(id, title, description, assigned_to, created_by, status, priority, channel, depends_on, deadline, required_capabilities, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, toNull(t.Description), toNull(t.AssignedTo), t.CreatedBy, t.Status, t.Priority, t.Channel,
		encodeList(t.DependsOn), nullMS(t.Deadline), encodeList(t.RequiredCapabilities), ms(t.CreatedAt), ms(t.UpdatedAt))
	return err
}

func (s *sqlStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("task", id)
	}
	return t, err
}

// ListTasks returns tasks matching f, newest first.
func (s *sqlStore) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	} else if !f.IncludeArchived {
		where = append(where, "status <> 'archived'")
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, f.Channel)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ClaimTask moves a pending task to in_progress under agentID. It reports false
// when the task was not pending.
func (s *sqlStore) ClaimTask(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE tasks SET status = 'in_progress', assigned_to = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		agentID, ms(at), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteTask marks a task done. It reports false when it was already done or archived.
func (s *sqlStore) CompleteTask(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE tasks SET status = 'done', completed_at = ?, updated_at = ? WHERE id = ? AND status NOT IN ('done', 'archived')`,
		ms(at), ms(at), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateTask applies a partial update in one statement.
func (s *sqlStore) UpdateTask(ctx context.Context, id string, p TaskPatch, at time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{ms(at)}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, toNull(p.Description))
	}
	if p.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, toNull(p.AssignedTo))
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if p.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *p.Priority)
	}
	if p.Channel != nil {
		sets = append(sets, "channel = ?")
		args = append(args, *p.Channel)
	}
	if p.Deadline != nil {
		sets = append(sets, "deadline = ?")
		args = append(args, ms(*p.Deadline))
	}
	if p.DependsOn != nil {
		sets = append(sets, "depends_on = ?")
		args = append(args, encodeList(p.DependsOn))
	}
	args = append(args, id)
	res, err := s.exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("task", id)
	}
	return nil
}

func (s *sqlStore) SetTaskStatus(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, ms(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("task", id)
	}
	return nil
}

// ArchiveDoneBefore archives tasks completed before cutoff and returns how many moved.
func (s *sqlStore) ArchiveDoneBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := s.exec(ctx, `UPDATE tasks SET status = 'archived', updated_at = ? WHERE status = 'done' AND completed_at IS NOT NULL AND completed_at < ?`,
		ms(at), ms(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountActiveTasks counts pending and in-progress tasks assigned to agentID.
func (s *sqlStore) CountActiveTasks(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE assigned_to = ? AND status IN ('pending', 'in_progress')`, agentID).Scan(&n)
	return n, err
}
