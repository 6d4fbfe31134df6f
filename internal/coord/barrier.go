package coord

import (
	"context"
	"fmt"
	"strings"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// CreateBarrier is the body of POST /sync/barrier.
type CreateBarrier struct {
	Agents    []string `json:"agents"`
	Channel   string   `json:"channel,omitempty"`
	CreatedBy string   `json:"created_by,omitempty"`
}

// Cleared is the system event sent to each participant when a barrier clears.
type Cleared struct {
	Type      string   `json:"type"`
	BarrierID string   `json:"barrier_id"`
	Agents    []string `json:"agents"`
	Channel   string   `json:"channel"`
	Timestamp int64    `json:"timestamp"`
}

// CreateBarrier stores a barrier for at least two distinct participants.
func (s *Service) CreateBarrier(ctx context.Context, in CreateBarrier) (*models.Barrier, error) {
	seen := make(map[string]bool, len(in.Agents))
	agents := make([]string, 0, len(in.Agents))
	for _, a := range in.Agents {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		agents = append(agents, a)
	}
	if len(agents) < 2 {
		return nil, errs.Invalid("at least 2 agents required")
	}
	if in.Channel == "" {
		in.Channel = models.DefaultChannel
	}
	b := store.Barrier{
		ID:           store.NewID(),
		Participants: agents,
		Ready:        []string{},
		Channel:      in.Channel,
		CreatedAt:    s.Now(),
	}
	if in.CreatedBy != "" {
		b.CreatedBy = &in.CreatedBy
	}
	if err := s.Store.CreateBarrier(ctx, b); err != nil {
		return nil, fmt.Errorf("create barrier: %w", err)
	}
	out := store.BarrierModel(b)
	return &out, nil
}

func (s *Service) Barrier(ctx context.Context, id string) (*models.Barrier, error) {
	b, err := s.Store.GetBarrier(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.BarrierModel(*b)
	return &out, nil
}

// SignalReady marks agent ready. The caller whose signal completes the ready
// set clears the barrier and announces it; everyone else sees waiting or
// already_ready.
func (s *Service) SignalReady(ctx context.Context, id, agent string) (*models.BarrierSignal, error) {
	if agent == "" {
		return nil, errs.Invalid("agent is required")
	}
	b, err := s.Store.GetBarrier(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Cleared {
		return nil, errs.Conflict("barrier already cleared", map[string]any{"cleared": true})
	}
	if !contains(b.Participants, agent) {
		return nil, errs.Invalid("agent %s is not part of this barrier", agent)
	}
	now := s.Now()
	added, err := s.Store.AddBarrierReady(ctx, id, agent, now)
	if err != nil {
		return nil, err
	}
	if !added {
		otel.RecordBarrierSignal(ctx, models.BarrierAlreadyReady)
		return &models.BarrierSignal{Status: models.BarrierAlreadyReady}, nil
	}
	cleared, err := s.Store.ClearBarrier(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if cleared {
		otel.RecordBarrierSignal(ctx, models.BarrierCleared)
		s.announceCleared(ctx, b, now.UnixMilli())
		return &models.BarrierSignal{Status: models.BarrierCleared, Agents: b.Participants}, nil
	}

	cur, err := s.Store.GetBarrier(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Cleared {
		// Another participant's signal cleared it between our write and read.
		otel.RecordBarrierSignal(ctx, models.BarrierCleared)
		return &models.BarrierSignal{Status: models.BarrierCleared, Agents: cur.Participants}, nil
	}
	otel.RecordBarrierSignal(ctx, models.BarrierWaiting)
	return &models.BarrierSignal{Status: models.BarrierWaiting, Ready: cur.Ready, Remaining: cur.Remaining()}, nil
}

func (s *Service) announceCleared(ctx context.Context, b *store.Barrier, at int64) {
	if s.Pub != nil {
		ev := fanout.Event{Name: models.EventSystem, Channel: b.Channel, Data: Cleared{
			Type:      "barrier_cleared",
			BarrierID: b.ID,
			Agents:    b.Participants,
			Channel:   b.Channel,
			Timestamp: at,
		}}
		for _, a := range b.Participants {
			s.Pub.Publish(ctx, ev, fanout.To(a))
		}
	}
	s.post(ctx, models.SendMessage{
		FromAgent: models.SystemAgent,
		Channel:   b.Channel,
		Type:      models.TypeCoordination,
		Priority:  models.PriorityHigh,
		Content:   "Barrier cleared! All agents ready: " + strings.Join(b.Participants, ", "),
	}, models.BarrierRef{BarrierID: b.ID, Agents: b.Participants})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
