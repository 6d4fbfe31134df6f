package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const delegationSelect = `
SELECT d.id, d.task_id, t.title, d.parent_agent, d.sub_agent_id, d.sub_agent_label, d.status, d.spawned_at, d.completed_at, d.result, d.error
FROM delegations d LEFT JOIN tasks t ON d.task_id = t.id`

func scanDelegation(row rowScanner) (*Delegation, error) {
	var (
		d                    Delegation
		title, result, errTx sql.NullString
		spawned              int64
		completed            sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.TaskID, &title, &d.ParentAgent, &d.SubAgentID, &d.SubAgentLabel, &d.Status,
		&spawned, &completed, &result, &errTx); err != nil {
		return nil, err
	}
	d.TaskTitle = strPtr(title)
	d.SpawnedAt = fromMS(spawned)
	d.CompletedAt = timePtr(completed)
	d.Result = strPtr(result)
	d.Error = strPtr(errTx)
	return &d, nil
}

func (s *sqlStore) InsertDelegation(ctx context.Context, d Delegation) error {
	_, err := s.exec(ctx, `
INSERT INTO delegations(id, task_id, parent_agent, sub_agent_id, sub_agent_label, status, spawned_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.ParentAgent, d.SubAgentID, d.SubAgentLabel, d.Status, ms(d.SpawnedAt))
	return err
}

func (s *sqlStore) GetDelegation(ctx context.Context, id string) (*Delegation, error) {
	d, err := scanDelegation(s.queryRow(ctx, delegationSelect+` WHERE d.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("delegation", id)
	}
	return d, err
}

func (s *sqlStore) ListDelegations(ctx context.Context, f DelegationFilter) ([]Delegation, error) {
	var (
		where []string
		args  []any
	)
	if f.TaskID != "" {
		where = append(where, "d.task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.ParentAgent != "" {
		where = append(where, "d.parent_agent = ?")
		args = append(args, f.ParentAgent)
	}
	if f.Status != "" {
		where = append(where, "d.status = ?")
		args = append(args, f.Status)
	}
	q := delegationSelect
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY d.spawned_at DESC, d.id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Delegation{}
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDelegation sets status and, when given, result, error and completion time.
func (s *sqlStore) UpdateDelegation(ctx context.Context, id, status string, result, errText *string, completedAt *time.Time) error {
	sets := []string{"status = ?"}
	args := []any{status}
	if completedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, ms(*completedAt))
	}
	if result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *result)
	}
	if errText != nil {
		sets = append(sets, "error = ?")
		args = append(args, *errText)
	}
	args = append(args, id)
	res, err := s.exec(ctx, `UPDATE delegations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("delegation", id)
	}
	return nil
}
