package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const presenceColumns = `agent_id, status, status_text, current_task, current_channel, mood, updated_at`

func scanPresence(row rowScanner) (*Presence, error) {
	var (
		p                         Presence
		text, task, channel, mood sql.NullString
		updatedAt                 int64
	)
	if err := row.Scan(&p.AgentID, &p.Status, &text, &task, &channel, &mood, &updatedAt); err != nil {
		return nil, err
	}
	p.StatusText = strPtr(text)
	p.CurrentTask = strPtr(task)
	p.CurrentChannel = strPtr(channel)
	p.Mood = strPtr(mood)
	p.UpdatedAt = fromMS(updatedAt)
	return &p, nil
}

// UpsertPresence writes the provided fields and stamps updated_at. A new row
// defaults to status online.
func (s *sqlStore) UpsertPresence(ctx context.Context, agentID string, p PresencePatch, at time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{ms(at)}
	for _, f := range []struct {
		col string
		v   *string
	}{
		{"status", p.Status},
		{"status_text", p.StatusText},
		{"current_task", p.CurrentTask},
		{"current_channel", p.CurrentChannel},
		{"mood", p.Mood},
	} {
		if f.v != nil {
			sets = append(sets, f.col+" = ?")
			args = append(args, toNull(f.v))
		}
	}
	update := `UPDATE agent_presence SET ` + strings.Join(sets, ", ") + ` WHERE agent_id = ?`
	args = append(args, agentID)

	res, err := s.exec(ctx, update, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	status := "online"
	if p.Status != nil && *p.Status != "" {
		status = *p.Status
	}
	res, err = s.exec(ctx, `
INSERT INTO agent_presence(agent_id, status, status_text, current_task, current_channel, mood, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		agentID, status, toNull(p.StatusText), toNull(p.CurrentTask), toNull(p.CurrentChannel), toNull(p.Mood), ms(at))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost an insert race; the row exists now.
		_, err = s.exec(ctx, update, args...)
	}
	return err
}

func (s *sqlStore) GetPresence(ctx context.Context, agentID string) (*Presence, error) {
	p, err := scanPresence(s.queryRow(ctx, `SELECT `+presenceColumns+` FROM agent_presence WHERE agent_id = ?`, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("presence", agentID)
	}
	return p, err
}

func (s *sqlStore) ListPresence(ctx context.Context) ([]Presence, error) {
	rows, err := s.query(ctx, `SELECT `+presenceColumns+` FROM agent_presence ORDER BY updated_at DESC, agent_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Presence{}
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertActivity(ctx context.Context, a Activity) error {
	_, err := s.exec(ctx, `INSERT INTO agent_activity_log(id, agent_id, activity, details, at) VALUES(?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.Activity, toNull(a.Details), ms(a.At))
	return err
}

// ListActivity returns the agent's log, most recent first.
func (s *sqlStore) ListActivity(ctx context.Context, agentID string, limit int) ([]Activity, error) {
	rows, err := s.query(ctx, `SELECT id, agent_id, activity, details, at FROM agent_activity_log WHERE agent_id = ? ORDER BY at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Activity{}
	for rows.Next() {
		var (
			a       Activity
			details sql.NullString
			at      int64
		)
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Activity, &details, &at); err != nil {
			return nil, err
		}
		a.Details = strPtr(details)
		a.At = fromMS(at)
		out = append(out, a)
	}
	return out, rows.Err()
}
