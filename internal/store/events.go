package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const (
	eventColumns        = `id, type, source_agent, channel, payload, created_at`
	subscriptionColumns = `id, agent_id, event_type, webhook_url, filter, created_at`
)

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                Event
		channel, payload sql.NullString
		created          int64
	)
	if err := row.Scan(&e.ID, &e.Type, &e.SourceAgent, &channel, &payload, &created); err != nil {
		return nil, err
	}
	e.Channel = strPtr(channel)
	e.Payload = rawJSON(payload)
	e.CreatedAt = fromMS(created)
	return &e, nil
}

func scanSubscription(row rowScanner) (*EventSubscription, error) {
	var (
		sub             EventSubscription
		webhook, filter sql.NullString
		created         int64
	)
	if err := row.Scan(&sub.ID, &sub.AgentID, &sub.EventType, &webhook, &filter, &created); err != nil {
		return nil, err
	}
	sub.WebhookURL = strPtr(webhook)
	sub.Filter = rawJSON(filter)
	sub.CreatedAt = fromMS(created)
	return &sub, nil
}

func (s *sqlStore) InsertEvent(ctx context.Context, e Event) error {
	_, err := s.exec(ctx, `INSERT INTO events(`+eventColumns+`) VALUES(?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.SourceAgent, toNull(e.Channel), toNullJSON(e.Payload), ms(e.CreatedAt))
	return err
}

// ListEvents returns events newest first.
func (s *sqlStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, ms(f.Since))
	}
	q := `SELECT ` + eventColumns + ` FROM events`
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
	out := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertSubscription(ctx context.Context, sub EventSubscription) error {
	_, err := s.exec(ctx, `INSERT INTO event_subscriptions(`+subscriptionColumns+`) VALUES(?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.AgentID, sub.EventType, toNull(sub.WebhookURL), toNullJSON(sub.Filter), ms(sub.CreatedAt))
	return err
}

// ListSubscriptions returns subscriptions newest first. Empty agentID or
// eventType match any.
func (s *sqlStore) ListSubscriptions(ctx context.Context, agentID, eventType string) ([]EventSubscription, error) {
	var (
		where []string
		args  []any
	)
	if agentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, agentID)
	}
	if eventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, eventType)
	}
	q := `SELECT ` + subscriptionColumns + ` FROM event_subscriptions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id ASC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []EventSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// DeleteSubscription removes subscription id owned by agentID.
func (s *sqlStore) DeleteSubscription(ctx context.Context, id, agentID string) error {
	res, err := s.exec(ctx, `DELETE FROM event_subscriptions WHERE id = ? AND agent_id = ?`, id, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("subscription", id)
	}
	return nil
}

// PurgeEvents drops events created before cutoff.
func (s *sqlStore) PurgeEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM events WHERE created_at < ?`, ms(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
