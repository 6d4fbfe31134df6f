package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const workflowColumns = `id, name, channel, created_by, status, steps, created_at, updated_at, completed_at`

const stepColumns = `id, workflow_id, step_index, name, assigned_to, required_capabilities, depends_on_step, status, output, started_at, completed_at`

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var (
		w                    Workflow
		steps                string
		createdAt, updatedAt int64
		completed            sql.NullInt64
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Channel, &w.CreatedBy, &w.Status, &steps, &createdAt, &updatedAt, &completed); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(steps), &w.Steps)
	w.CreatedAt = fromMS(createdAt)
	w.UpdatedAt = fromMS(updatedAt)
	w.CompletedAt = timePtr(completed)
	return &w, nil
}

func scanStep(row rowScanner) (*WorkflowStep, error) {
	var (
		st                 WorkflowStep
		assigned, output   sql.NullString
		caps               string
		dependsOn          sql.NullInt64
		started, completed sql.NullInt64
	)
	if err := row.Scan(&st.ID, &st.WorkflowID, &st.Index, &st.Name, &assigned, &caps, &dependsOn, &st.Status, &output, &started, &completed); err != nil {
		return nil, err
	}
	st.AssignedTo = strPtr(assigned)
	st.RequiredCapabilities = decodeList(caps)
	st.DependsOnStep = intPtr(dependsOn)
	st.Output = strPtr(output)
	st.StartedAt = timePtr(started)
	st.CompletedAt = timePtr(completed)
	return &st, nil
}

// CreateWorkflow stores the workflow and its step rows in one transaction.
func (s *sqlStore) CreateWorkflow(ctx context.Context, w Workflow, steps []WorkflowStep) error {
	defs, err := json.Marshal(w.Steps)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO workflows(id, name, channel, created_by, status, steps, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
		w.ID, w.Name, w.Channel, w.CreatedBy, w.Status, string(defs), ms(w.CreatedAt), ms(w.UpdatedAt)); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO workflow_steps(id, workflow_id, step_index, name, assigned_to, required_capabilities, depends_on_step, status)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
			st.ID, w.ID, st.Index, st.Name, toNull(st.AssignedTo), encodeList(st.RequiredCapabilities), toNullInt(st.DependsOnStep), st.Status); err != nil {
			return fmt.Errorf("insert step %d: %w", st.Index, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	w, err := scanWorkflow(s.queryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("workflow", id)
	}
	return w, err
}

func (s *sqlStore) ListWorkflows(ctx context.Context, status string) ([]Workflow, error) {
	q := `SELECT ` + workflowColumns + ` FROM workflows`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id ASC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListSteps(ctx context.Context, workflowID string) ([]WorkflowStep, error) {
	rows, err := s.query(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = ? ORDER BY step_index ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []WorkflowStep{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetStep(ctx context.Context, workflowID, stepID string) (*WorkflowStep, error) {
	st, err := scanStep(s.queryRow(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = ? AND id = ?`, workflowID, stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("step", stepID)
	}
	return st, err
}

// TransitionWorkflow moves a workflow to status `to` if its current status is one of from.
func (s *sqlStore) TransitionWorkflow(ctx context.Context, id string, from []string, to string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}
	args := []any{to, ms(at)}
	completedAt := "completed_at"
	if to == "completed" {
		completedAt = "?"
		args = append(args, ms(at))
	}
	args = append(args, id)
	marks := make([]string, len(from))
	for i, f := range from {
		marks[i] = "?"
		args = append(args, f)
	}
	res, err := s.exec(ctx, `UPDATE workflows SET status = ?, updated_at = ?, completed_at = `+completedAt+
		` WHERE id = ? AND status IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ActivateStep flips a pending step to active; false if it was not pending.
func (s *sqlStore) ActivateStep(ctx context.Context, stepID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE workflow_steps SET status = 'active', started_at = ? WHERE id = ? AND status = 'pending'`, ms(at), stepID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteStep records output and completion; false if the step was already completed.
func (s *sqlStore) CompleteStep(ctx context.Context, stepID string, output *string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE workflow_steps SET status = 'completed', output = ?, completed_at = ? WHERE id = ? AND status <> 'completed'`,
		toNull(output), ms(at), stepID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) AssignStep(ctx context.Context, workflowID, stepID, agentID string) error {
	res, err := s.exec(ctx, `UPDATE workflow_steps SET assigned_to = ? WHERE workflow_id = ? AND id = ?`, agentID, workflowID, stepID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("step", stepID)
	}
	return nil
}
