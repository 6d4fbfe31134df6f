// Package coord implements the hub's synchronization primitives: N-of-N
// barriers and leased resource locks. Both are durable rows; lock expiry is
// enforced lazily by purging before every read or acquire.
package coord

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// DefaultLockTTL applies when Acquire is given no TTL.
const DefaultLockTTL = models.DefaultLockTTLSeconds * time.Second

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Messenger persists and delivers a message.
type Messenger interface {
	Send(ctx context.Context, in models.SendMessage) (*models.Message, error)
}

type Service struct {
	Store store.Store
	Pub   Publisher
	Msg   Messenger
	Now   func() time.Time

	LockTTL time.Duration
}

func New(st store.Store, pub Publisher, msg Messenger) *Service {
	return &Service{Store: st, Pub: pub, Msg: msg, Now: time.Now, LockTTL: DefaultLockTTL}
}

func (s *Service) post(ctx context.Context, in models.SendMessage, meta any) {
	if s.Msg == nil {
		return
	}
	if b, err := json.Marshal(meta); err == nil {
		in.Metadata = b
	}
	if _, err := s.Msg.Send(ctx, in); err != nil {
		slog.Warn("coordination message not posted", "channel", in.Channel, "err", err)
	}
}
