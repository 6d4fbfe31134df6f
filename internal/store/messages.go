package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const messageColumns = `id, from_agent, to_agent, channel, type, content, metadata, priority, created_at, delivered_at, read_at, reply_to, pinned, expires_at`

// unreadWhere selects messages addressed to an agent (direct or channel-wide from someone
// else) that are neither read nor expired. Args: agent, agent, now.
const unreadWhere = `(to_agent = ? OR (to_agent IS NULL AND from_agent <> ?)) AND read_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`

const priorityOrder = `CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m                       Message
		to, metadata, replyTo   sql.NullString
		createdAt               int64
		delivered, read, expiry sql.NullInt64
		pinned                  int
	)
	if err := row.Scan(&m.ID, &m.FromAgent, &to, &m.Channel, &m.Type, &m.Content, &metadata, &m.Priority,
		&createdAt, &delivered, &read, &replyTo, &pinned, &expiry); err != nil {
		return nil, err
	}
	m.ToAgent = strPtr(to)
	m.Metadata = rawJSON(metadata)
	m.CreatedAt = fromMS(createdAt)
	m.DeliveredAt = timePtr(delivered)
	m.ReadAt = timePtr(read)
	m.ReplyTo = strPtr(replyTo)
	m.Pinned = pinned != 0
	m.ExpiresAt = timePtr(expiry)
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.stmtInsertMessage.ExecContext(ctx, m.ID, m.FromAgent, toNull(m.ToAgent), m.Channel, m.Type, m.Content,
		toNullJSON(m.Metadata), m.Priority, ms(m.CreatedAt), toNull(m.ReplyTo), boolInt(m.Pinned), nullMS(m.ExpiresAt))
	return err
}

func (s *sqlStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("message", id)
	}
	return m, err
}

// ListChannelMessages returns messages in a channel created after since, oldest first.
func (s *sqlStore) ListChannelMessages(ctx context.Context, channel string, since time.Time, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE channel = ? AND created_at > ? ORDER BY created_at ASC LIMIT ?`,
		channel, ms(since), limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// RecentChannelMessages returns the newest limit messages of a channel, newest first.
func (s *sqlStore) RecentChannelMessages(ctx context.Context, channel string, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE channel = ? ORDER BY created_at DESC LIMIT ?`, channel, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListUnread returns the agent's backlog ordered by priority then creation time.
func (s *sqlStore) ListUnread(ctx context.Context, agentID string, now time.Time) ([]Message, error) {
	rows, err := s.stmtListUnread.QueryContext(ctx, agentID, agentID, ms(now))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *sqlStore) CountUnread(ctx context.Context, agentID string, now time.Time) (int, error) {
	var n int
	err := s.stmtCountUnread.QueryRowContext(ctx, agentID, agentID, ms(now)).Scan(&n)
	return n, err
}

func (s *sqlStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.updateMessage(ctx, id, `UPDATE messages SET delivered_at = ? WHERE id = ?`, ms(at), id)
}

func (s *sqlStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	return s.updateMessage(ctx, id, `UPDATE messages SET read_at = ? WHERE id = ?`, ms(at), id)
}

func (s *sqlStore) SetMessagePinned(ctx context.Context, id string, pinned bool) error {
	return s.updateMessage(ctx, id, `UPDATE messages SET pinned = ? WHERE id = ?`, boolInt(pinned), id)
}

func (s *sqlStore) updateMessage(ctx context.Context, id, q string, args ...any) error {
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("message", id)
	}
	return nil
}
