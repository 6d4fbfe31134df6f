// Package messaging owns agents, channels and messages: it persists a message,
// pushes it to live streams, marks the sender alive and fires webhooks.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/cache"
	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/notify"
	"github.com/SikeGottem/agent-comms/internal/presence"
	"github.com/SikeGottem/agent-comms/internal/store"
)

const (
	DefaultRosterTTL = 30 * time.Second
	DefaultUnreadTTL = 10 * time.Second

	rosterKey    = "agents:list"
	unreadPrefix = "unread:"
)

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Service is safe for concurrent use. Pub, Presence, Cache and Notify are optional.
type Service struct {
	Store    store.Store
	Pub      Publisher
	Presence *presence.Tracker
	Cache    *cache.Cache
	Notify   *notify.Dispatcher

	RosterTTL time.Duration
	UnreadTTL time.Duration
	Now       func() time.Time
}

func New(st store.Store, pub Publisher, pr *presence.Tracker, c *cache.Cache, n *notify.Dispatcher) *Service {
	return &Service{
		Store:     st,
		Pub:       pub,
		Presence:  pr,
		Cache:     c,
		Notify:    n,
		RosterTTL: DefaultRosterTTL,
		UnreadTTL: DefaultUnreadTTL,
		Now:       time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) publish(ctx context.Context, ev fanout.Event, t fanout.Target) {
	if s.Pub != nil {
		s.Pub.Publish(ctx, ev, t)
	}
}

func (s *Service) invalidate(substr string) {
	if s.Cache != nil {
		s.Cache.Invalidate(substr)
	}
}

// CanAccess reports whether agent may see channel. Unknown and public channels
// are open; private channels require membership. Lookup errors deny.
func (s *Service) CanAccess(ctx context.Context, channel, agent string) bool {
	ch, err := s.Store.GetChannel(ctx, channel)
	if errors.Is(err, errs.ErrNotFound) {
		return true
	}
	if err == nil && !ch.Private {
		return true
	}
	ok := false
	if err == nil {
		ok, err = s.Store.IsMember(ctx, channel, agent)
	}
	if err != nil {
		slog.Warn("channel access check failed", "channel", channel, "agent", agent, "err", err)
		return false
	}
	return ok
}

// touch marks agentID alive on both the roster and presence.
func (s *Service) touch(ctx context.Context, agentID string) {
	if _, err := s.Store.TouchAgent(ctx, agentID, s.now()); err != nil {
		slog.Warn("touch agent failed", "agent", agentID, "err", err)
	}
	if s.Presence != nil {
		s.Presence.Touch(ctx, agentID)
	}
}
