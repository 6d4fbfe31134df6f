package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const channelColumns = `id, name, description, private, topic, pinned_context, invite_code, created_by, created_at`

func scanChannel(row rowScanner) (*Channel, error) {
	var (
		c                                    Channel
		desc, topic, pinned, invite, creator sql.NullString
		private                              int
		createdAt                            int64
	)
	if err := row.Scan(&c.ID, &c.Name, &desc, &private, &topic, &pinned, &invite, &creator, &createdAt); err != nil {
		return nil, err
	}
	c.Description = strPtr(desc)
	c.Private = private != 0
	c.Topic = strPtr(topic)
	c.PinnedContext = strPtr(pinned)
	c.InviteCode = strPtr(invite)
	c.CreatedBy = strPtr(creator)
	c.CreatedAt = fromMS(createdAt)
	return &c, nil
}

// CreateChannel inserts a channel; it reports false if the id already exists.
func (s *sqlStore) CreateChannel(ctx context.Context, c Channel) (bool, error) {
	res, err := s.exec(ctx, `
INSERT INTO channels(id, name, description, private, topic, pinned_context, invite_code, created_by, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		c.ID, c.Name, toNull(c.Description), boolInt(c.Private), toNull(c.Topic), toNull(c.PinnedContext),
		toNull(c.InviteCode), toNull(c.CreatedBy), ms(c.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	c, err := scanChannel(s.queryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("channel", id)
	}
	return c, err
}

func (s *sqlStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateChannel sets topic and/or pinned context; nil leaves a field unchanged.
func (s *sqlStore) UpdateChannel(ctx context.Context, id string, topic, pinnedContext *string) error {
	res, err := s.exec(ctx, `
UPDATE channels SET
  topic = CASE WHEN ? = 1 THEN ? ELSE topic END,
  pinned_context = CASE WHEN ? = 1 THEN ? ELSE pinned_context END
WHERE id = ?`,
		boolInt(topic != nil), toNull(topic), boolInt(pinnedContext != nil), toNull(pinnedContext), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("channel", id)
	}
	return nil
}

func (s *sqlStore) SetChannelInvite(ctx context.Context, id, code string) error {
	res, err := s.exec(ctx, `UPDATE channels SET invite_code = ? WHERE id = ?`, code, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("channel", id)
	}
	return nil
}

// AddMember inserts or re-roles a membership.
func (s *sqlStore) AddMember(ctx context.Context, m Member) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	_, err := s.exec(ctx, `
INSERT INTO channel_members(channel_id, agent_id, role, joined_at) VALUES(?, ?, ?, ?)
ON CONFLICT(channel_id, agent_id) DO UPDATE SET role = excluded.role`,
		m.ChannelID, m.AgentID, m.Role, ms(m.JoinedAt))
	return err
}

func (s *sqlStore) RemoveMember(ctx context.Context, channelID, agentID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM channel_members WHERE channel_id = ? AND agent_id = ?`, channelID, agentID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListMembers(ctx context.Context, channelID string) ([]Member, error) {
	rows, err := s.query(ctx, `SELECT channel_id, agent_id, role, joined_at FROM channel_members WHERE channel_id = ? ORDER BY joined_at ASC, agent_id ASC`, channelID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Member{}
	for rows.Next() {
		var m Member
		var joined int64
		if err := rows.Scan(&m.ChannelID, &m.AgentID, &m.Role, &joined); err != nil {
			return nil, err
		}
		m.JoinedAt = fromMS(joined)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) IsMember(ctx context.Context, channelID, agentID string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM channel_members WHERE channel_id = ? AND agent_id = ?`, channelID, agentID).Scan(&n)
	return n > 0, err
}
