package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// CreateChannel is the body of POST /channels.
type CreateChannel struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Private     bool    `json:"private,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
}

// Created is the result of CreateChannel. InviteCode is only set for a newly
// created private channel.
type Created struct {
	Channel    models.Channel `json:"channel"`
	Created    bool           `json:"created"`
	InviteCode string         `json:"invite_code,omitempty"`
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateChannel creates a channel, or returns the existing one with Created false.
// The creator becomes its owner.
func (s *Service) CreateChannel(ctx context.Context, in CreateChannel) (*Created, error) {
	if in.ID == "" || in.Name == "" {
		return nil, errs.Invalid("id and name are required")
	}
	c := store.Channel{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Private:     in.Private,
		CreatedAt:   s.now(),
	}
	if in.CreatedBy != "" {
		c.CreatedBy = &in.CreatedBy
	}
	var code string
	if in.Private {
		code = randomHex(8)
		c.InviteCode = &code
	}
	created, err := s.Store.CreateChannel(ctx, c)
	if err != nil {
		return nil, err
	}
	if created && in.CreatedBy != "" {
		if err := s.Store.AddMember(ctx, store.Member{ChannelID: c.ID, AgentID: in.CreatedBy, Role: models.RoleOwner, JoinedAt: c.CreatedAt}); err != nil {
			return nil, err
		}
	}
	got, err := s.Store.GetChannel(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	out := &Created{Channel: store.ChannelModel(*got), Created: created}
	if created {
		out.InviteCode = code
	}
	return out, nil
}

func (s *Service) Channels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Channel, 0, len(rows))
	for _, c := range rows {
		out = append(out, store.ChannelModel(c))
	}
	return out, nil
}

func (s *Service) Channel(ctx context.Context, id string) (*models.Channel, error) {
	c, err := s.Store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.ChannelModel(*c)
	return &out, nil
}

// Summary condenses the last ten messages of a channel, oldest first, with
// content clipped to 100 characters.
func (s *Service) Summary(ctx context.Context, channel string) (*models.ChannelSummary, error) {
	rows, err := s.Store.RecentChannelMessages(ctx, channel, 10)
	if err != nil {
		return nil, err
	}
	out := &models.ChannelSummary{Channel: channel, MessageCount: len(rows), Summary: []models.SummaryEntry{}}
	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		content := m.Content
		if r := []rune(content); len(r) > 100 {
			content = string(r[:100]) + "..."
		}
		out.Summary = append(out.Summary, models.SummaryEntry{
			From:    m.FromAgent,
			Type:    m.Type,
			Content: content,
			Time:    m.CreatedAt.UnixMilli(),
		})
	}
	if n := len(out.Summary); n > 0 {
		out.TimeRange = &models.TimeRange{From: out.Summary[0].Time, To: out.Summary[n-1].Time}
	}
	return out, nil
}

// UpdateChannel sets topic and/or pinned context. Only owners and admins may
// update a private channel.
func (s *Service) UpdateChannel(ctx context.Context, id, caller string, topic, pinned *string) (*models.Channel, error) {
	if topic == nil && pinned == nil {
		return nil, errs.Invalid("topic or pinned_context is required")
	}
	c, err := s.Store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Private {
		if err := s.requireRole(ctx, id, caller, models.RoleOwner, models.RoleAdmin); err != nil {
			return nil, err
		}
	}
	if err := s.Store.UpdateChannel(ctx, id, topic, pinned); err != nil {
		return nil, err
	}
	return s.Channel(ctx, id)
}

func (s *Service) requireRole(ctx context.Context, channel, agent string, roles ...string) error {
	members, err := s.Store.ListMembers(ctx, channel)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.AgentID != agent {
			continue
		}
		for _, r := range roles {
			if m.Role == r {
				return nil
			}
		}
	}
	return errs.Forbidden("%s may not manage channel %s", agent, channel)
}

// Join adds agent to a channel. The first member of a channel becomes its
// owner; later joiners of a private channel must present the invite code.
// Joining twice keeps the original role.
func (s *Service) Join(ctx context.Context, channel, agent, inviteCode string) (*models.Member, error) {
	if agent == "" {
		return nil, errs.Invalid("agent is required")
	}
	c, err := s.Store.GetChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	members, err := s.Store.ListMembers(ctx, channel)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.AgentID == agent {
			out := store.MemberModel(m)
			return &out, nil
		}
	}
	role := models.RoleMember
	switch {
	case len(members) == 0:
		role = models.RoleOwner
	case c.Private && (c.InviteCode == nil || inviteCode != *c.InviteCode):
		return nil, errs.Forbidden("a valid invite code is required to join %s", channel)
	}
	m := store.Member{ChannelID: channel, AgentID: agent, Role: role, JoinedAt: s.now()}
	if err := s.Store.AddMember(ctx, m); err != nil {
		return nil, err
	}
	out := store.MemberModel(m)
	return &out, nil
}

// Leave removes agent from a channel.
func (s *Service) Leave(ctx context.Context, channel, agent string) error {
	ok, err := s.Store.RemoveMember(ctx, channel, agent)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("member", agent)
	}
	return nil
}

func (s *Service) Members(ctx context.Context, channel string) ([]models.Member, error) {
	if _, err := s.Store.GetChannel(ctx, channel); err != nil {
		return nil, err
	}
	rows, err := s.Store.ListMembers(ctx, channel)
	if err != nil {
		return nil, err
	}
	out := make([]models.Member, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.MemberModel(m))
	}
	return out, nil
}

// Invite rotates the channel's invite code. Only owners and admins may do it.
func (s *Service) Invite(ctx context.Context, channel, caller string) (string, error) {
	if _, err := s.Store.GetChannel(ctx, channel); err != nil {
		return "", err
	}
	if err := s.requireRole(ctx, channel, caller, models.RoleOwner, models.RoleAdmin); err != nil {
		return "", err
	}
	code := randomHex(8)
	if err := s.Store.SetChannelInvite(ctx, channel, code); err != nil {
		return "", err
	}
	return code, nil
}
