package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// AcquireLock is the body of POST /sync/lock.
type AcquireLock struct {
	Resource   string `json:"resource"`
	Agent      string `json:"agent"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func heldBy(l *store.Lock) error {
	return errs.Conflict("resource already locked", map[string]any{
		"locked_by":  l.Agent,
		"expires_at": l.ExpiresAt.UnixMilli(),
	})
}

// Acquire takes an exclusive lease on a resource. An expired lease is purged
// first; a live one, including the caller's own, is a conflict naming the holder.
func (s *Service) Acquire(ctx context.Context, in AcquireLock) (*models.Lock, error) {
	if in.Resource == "" || in.Agent == "" {
		return nil, errs.Invalid("resource and agent are required")
	}
	if in.TTLSeconds < 0 {
		return nil, errs.Invalid("ttl_seconds must not be negative")
	}
	ttl := s.LockTTL
	if in.TTLSeconds > 0 {
		ttl = time.Duration(in.TTLSeconds) * time.Second
	}
	// A holder that releases between our insert and read lets us try once more.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.Now()
		if _, err := s.Store.PurgeExpiredLocks(ctx, in.Resource, now); err != nil {
			return nil, fmt.Errorf("purge locks: %w", err)
		}
		l := store.Lock{Resource: in.Resource, Agent: in.Agent, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
		ok, err := s.Store.InsertLock(ctx, l)
		if err != nil {
			return nil, err
		}
		if ok {
			otel.RecordLockOp(ctx, "acquire", "acquired")
			out := store.LockModel(l)
			return &out, nil
		}
		cur, err := s.Store.GetLock(ctx, in.Resource)
		if err == nil {
			otel.RecordLockOp(ctx, "acquire", "conflict")
			return nil, heldBy(cur)
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
	}
	otel.RecordLockOp(ctx, "acquire", "conflict")
	return nil, errs.Conflict("resource already locked", nil)
}

// Release drops the lock on resource. When agent is set it must be the holder.
// An expired lease is purged first and, like an absent one, is not found.
func (s *Service) Release(ctx context.Context, resource, agent string) error {
	if resource == "" {
		return errs.Invalid("resource is required")
	}
	if _, err := s.Store.PurgeExpiredLocks(ctx, resource, s.Now()); err != nil {
		return fmt.Errorf("purge locks: %w", err)
	}
	ok, err := s.Store.DeleteLock(ctx, resource, agent)
	if err != nil {
		return err
	}
	if ok {
		otel.RecordLockOp(ctx, "release", "released")
		return nil
	}
	cur, err := s.Store.GetLock(ctx, resource)
	if err != nil {
		return err
	}
	otel.RecordLockOp(ctx, "release", "conflict")
	return heldBy(cur)
}

// Locks lists live leases, newest first.
func (s *Service) Locks(ctx context.Context) ([]models.Lock, error) {
	if _, err := s.Store.PurgeExpiredLocks(ctx, "", s.Now()); err != nil {
		return nil, fmt.Errorf("purge locks: %w", err)
	}
	rows, err := s.Store.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Lock, 0, len(rows))
	for _, l := range rows {
		out = append(out, store.LockModel(l))
	}
	return out, nil
}

// Purge removes every expired lease and reports how many were dropped.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.Store.PurgeExpiredLocks(ctx, "", s.Now())
}
