package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
)

// CreateBarrier stores a barrier with its ordered participant list.
func (s *sqlStore) CreateBarrier(ctx context.Context, b Barrier) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO barriers(id, channel, created_by, cleared, created_at) VALUES(?, ?, ?, 0, ?)`),
		b.ID, b.Channel, toNull(b.CreatedBy), ms(b.CreatedAt)); err != nil {
		return fmt.Errorf("insert barrier: %w", err)
	}
	for i, p := range b.Participants {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO barrier_participants(barrier_id, agent_id, position) VALUES(?, ?, ?)`), b.ID, p, i); err != nil {
			return fmt.Errorf("insert participant %s: %w", p, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetBarrier(ctx context.Context, id string) (*Barrier, error) {
	var (
		b         Barrier
		createdBy sql.NullString
		cleared   int
		createdAt int64
		clearedAt sql.NullInt64
	)
	err := s.queryRow(ctx, `SELECT id, channel, created_by, cleared, created_at, cleared_at FROM barriers WHERE id = ?`, id).
		Scan(&b.ID, &b.Channel, &createdBy, &cleared, &createdAt, &clearedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("barrier", id)
	}
	if err != nil {
		return nil, err
	}
	b.CreatedBy = strPtr(createdBy)
	b.Cleared = cleared != 0
	b.CreatedAt = fromMS(createdAt)
	b.ClearedAt = timePtr(clearedAt)

	if b.Participants, err = s.barrierAgents(ctx, `SELECT agent_id FROM barrier_participants WHERE barrier_id = ? ORDER BY position ASC`, id); err != nil {
		return nil, err
	}
	if b.Ready, err = s.barrierAgents(ctx, `SELECT agent_id FROM barrier_ready WHERE barrier_id = ? ORDER BY ready_at ASC, agent_id ASC`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *sqlStore) barrierAgents(ctx context.Context, q, id string) ([]string, error) {
	rows, err := s.query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddBarrierReady records agentID as ready. It reports false if it already was.
func (s *sqlStore) AddBarrierReady(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO barrier_ready(barrier_id, agent_id, ready_at) VALUES(?, ?, ?) ON CONFLICT DO NOTHING`, id, agentID, ms(at))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearBarrier flips cleared once every participant is ready. Exactly one caller
// observes true for a given barrier.
func (s *sqlStore) ClearBarrier(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
UPDATE barriers SET cleared = 1, cleared_at = ?
WHERE id = ? AND cleared = 0
  AND (SELECT COUNT(*) FROM barrier_ready r
       JOIN barrier_participants p ON p.barrier_id = r.barrier_id AND p.agent_id = r.agent_id
       WHERE r.barrier_id = ?)
    >= (SELECT COUNT(*) FROM barrier_participants WHERE barrier_id = ?)`,
		ms(at), id, id, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeExpiredLocks deletes locks whose expiry has passed. An empty resource purges all.
func (s *sqlStore) PurgeExpiredLocks(ctx context.Context, resource string, now time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if resource == "" {
		res, err = s.exec(ctx, `DELETE FROM locks WHERE expires_at <= ?`, ms(now))
	} else {
		res, err = s.exec(ctx, `DELETE FROM locks WHERE resource = ? AND expires_at <= ?`, resource, ms(now))
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertLock takes the lock if no row exists for the resource.
func (s *sqlStore) InsertLock(ctx context.Context, l Lock) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO locks(resource, agent, acquired_at, expires_at) VALUES(?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		l.Resource, l.Agent, ms(l.AcquiredAt), ms(l.ExpiresAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) GetLock(ctx context.Context, resource string) (*Lock, error) {
	var (
		l                   Lock
		acquired, expiresAt int64
	)
	err := s.queryRow(ctx, `SELECT resource, agent, acquired_at, expires_at FROM locks WHERE resource = ?`, resource).
		Scan(&l.Resource, &l.Agent, &acquired, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("lock", resource)
	}
	if err != nil {
		return nil, err
	}
	l.AcquiredAt = fromMS(acquired)
	l.ExpiresAt = fromMS(expiresAt)
	return &l, nil
}

// DeleteLock removes the lock on resource. A non-empty holder must match the lock's agent.
func (s *sqlStore) DeleteLock(ctx context.Context, resource, holder string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if holder == "" {
		res, err = s.exec(ctx, `DELETE FROM locks WHERE resource = ?`, resource)
	} else {
		res, err = s.exec(ctx, `DELETE FROM locks WHERE resource = ? AND agent = ?`, resource, holder)
	}
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListLocks(ctx context.Context) ([]Lock, error) {
	rows, err := s.query(ctx, `SELECT resource, agent, acquired_at, expires_at FROM locks ORDER BY acquired_at DESC, resource ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Lock{}
	for rows.Next() {
		var (
			l                   Lock
			acquired, expiresAt int64
		)
		if err := rows.Scan(&l.Resource, &l.Agent, &acquired, &expiresAt); err != nil {
			return nil, err
		}
		l.AcquiredAt = fromMS(acquired)
		l.ExpiresAt = fromMS(expiresAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
