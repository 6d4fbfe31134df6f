package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SikeGottem/agent-comms/internal/cache"
	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// Register creates or refreshes an agent and invalidates the roster cache.
func (s *Service) Register(ctx context.Context, in models.RegisterAgent) (*models.Agent, error) {
	if in.ID == "" || in.Name == "" {
		return nil, errs.Invalid("id and name are required")
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return nil, errs.Invalid("metadata must be valid JSON")
	}
	a, err := s.Store.UpsertAgent(ctx, store.Agent{
		ID:           in.ID,
		Name:         in.Name,
		Platform:     in.Platform,
		Capabilities: in.Capabilities,
		WebhookURL:   in.WebhookURL,
		Metadata:     in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(rosterKey)
	out := store.AgentModel(*a, s.online(a.LastSeenAt))
	return &out, nil
}

func (s *Service) online(lastSeen *time.Time) bool {
	short := 60 * time.Second
	if s.Presence != nil && s.Presence.Short > 0 {
		short = s.Presence.Short
	}
	return lastSeen != nil && s.now().Sub(*lastSeen) < short
}

func (s *Service) roster(ctx context.Context) ([]store.Agent, error) {
	if s.Cache == nil {
		return s.Store.ListAgents(ctx)
	}
	return cache.GetOrLoad(s.Cache, rosterKey, s.RosterTTL, func() ([]store.Agent, error) {
		return s.Store.ListAgents(ctx)
	})
}

// Agents lists registered agents with their online flag. The roster is cached;
// the flag is computed on every call.
func (s *Service) Agents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Agent, 0, len(rows))
	for _, a := range rows {
		out = append(out, store.AgentModel(a, s.online(a.LastSeenAt)))
	}
	return out, nil
}

func (s *Service) Agent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := s.Store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.AgentModel(*a, s.online(a.LastSeenAt))
	return &out, nil
}

// Heartbeat stamps last_seen for a registered agent.
func (s *Service) Heartbeat(ctx context.Context, id string) error {
	ok, err := s.Store.TouchAgent(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("agent", id)
	}
	return nil
}
