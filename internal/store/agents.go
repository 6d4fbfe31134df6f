package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

const agentColumns = `id, name, platform, capabilities, current_load, last_seen_at, webhook_url, metadata, created_at`

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		a         Agent
		platform  sql.NullString
		caps      string
		lastSeen  sql.NullInt64
		webhook   sql.NullString
		metadata  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Name, &platform, &caps, &a.CurrentLoad, &lastSeen, &webhook, &metadata, &createdAt); err != nil {
		return nil, err
	}
	a.Platform = strPtr(platform)
	a.Capabilities = decodeList(caps)
	a.LastSeenAt = timePtr(lastSeen)
	a.WebhookURL = strPtr(webhook)
	a.Metadata = rawJSON(metadata)
	a.CreatedAt = fromMS(createdAt)
	return &a, nil
}

// UpsertAgent registers an agent or refreshes its profile. Load is never touched by registration.
func (s *sqlStore) UpsertAgent(ctx context.Context, a Agent) (*Agent, error) {
	now := time.Now()
	_, err := s.exec(ctx, `
INSERT INTO agents(id, name, platform, capabilities, current_load, last_seen_at, webhook_url, metadata, created_at)
VALUES(?, ?, ?, ?, 0, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  platform = excluded.platform,
  capabilities = excluded.capabilities,
  last_seen_at = excluded.last_seen_at,
  webhook_url = excluded.webhook_url,
  metadata = excluded.metadata`,
		a.ID, a.Name, toNull(a.Platform), encodeList(a.Capabilities), ms(now), toNull(a.WebhookURL), toNullJSON(a.Metadata), ms(now))
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", a.ID, err)
	}
	return s.GetAgent(ctx, a.ID)
}

func (s *sqlStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("agent", id)
	}
	return a, err
}

func (s *sqlStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TouchAgent stamps last_seen_at. It reports false when the agent is not registered.
func (s *sqlStore) TouchAgent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.stmtTouchAgent.ExecContext(ctx, ms(at), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AdjustAgentLoad adds delta to the agent's load, never going below zero.
func (s *sqlStore) AdjustAgentLoad(ctx context.Context, id string, delta int) error {
	_, err := s.exec(ctx, `
UPDATE agents SET current_load = CASE WHEN current_load + ? < 0 THEN 0 ELSE current_load + ? END
WHERE id = ?`, delta, delta, id)
	return err
}
