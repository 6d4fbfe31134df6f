package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/cache"
	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/notify"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// Send validates and persists a message, then pushes it to live streams and
// webhooks. Only persistence failures are returned; everything after the
// insert is best effort.
func (s *Service) Send(ctx context.Context, in models.SendMessage) (*models.Message, error) {
	if err := s.prepare(ctx, &in); err != nil {
		return nil, err
	}
	return s.deliver(ctx, in)
}

// MaxBatch caps how many messages one SendBatch call accepts.
const MaxBatch = 100

// SendBatch validates every message before sending any, so one bad entry
// rejects the whole batch. Entries are then sent in order.
func (s *Service) SendBatch(ctx context.Context, in []models.SendMessage) ([]models.Message, error) {
	if len(in) == 0 {
		return nil, errs.Invalid("messages array is required")
	}
	if len(in) > MaxBatch {
		return nil, errs.Invalid("at most %d messages per batch", MaxBatch)
	}
	for i := range in {
		if err := s.prepare(ctx, &in[i]); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		sent, err := s.deliver(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, *sent)
	}
	return out, nil
}

// prepare fills defaults and rejects messages that cannot be sent.
func (s *Service) prepare(ctx context.Context, in *models.SendMessage) error {
	if in.FromAgent == "" || in.Content == "" {
		return errs.Invalid("from_agent and content are required")
	}
	if in.Channel == "" {
		in.Channel = models.DefaultChannel
	}
	if in.Type == "" {
		in.Type = models.TypeChat
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !models.ValidMessageType(in.Type) {
		return errs.Invalid("unknown message type %q", in.Type)
	}
	if !models.ValidPriority(in.Priority) {
		return errs.Invalid("unknown priority %q", in.Priority)
	}
	if in.ToAgent != nil && *in.ToAgent == "" {
		in.ToAgent = nil
	}
	if in.ExpiresInSeconds < 0 {
		return errs.Invalid("expires_in_seconds must not be negative")
	}
	md, err := models.DecodeMetadata(in.Type, in.Metadata)
	if err != nil {
		return errs.Invalid("%v", err)
	}
	if md != nil && md.Handoff != nil {
		if err := md.Handoff.Validate(); err != nil {
			return errs.Invalid("%v", err)
		}
	}
	if in.FromAgent != models.SystemAgent && !s.CanAccess(ctx, in.Channel, in.FromAgent) {
		return errs.Forbidden("%s is not a member of channel %s", in.FromAgent, in.Channel)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, in models.SendMessage) (*models.Message, error) {
	now := s.now()
	m := store.Message{
		ID:        store.NewID(),
		FromAgent: in.FromAgent,
		ToAgent:   in.ToAgent,
		Channel:   in.Channel,
		Type:      in.Type,
		Content:   in.Content,
		Metadata:  in.Metadata,
		Priority:  in.Priority,
		CreatedAt: now,
		ReplyTo:   in.ReplyTo,
	}
	if in.ExpiresInSeconds > 0 {
		exp := now.Add(time.Duration(in.ExpiresInSeconds) * time.Second)
		m.ExpiresAt = &exp
	}
	if err := s.Store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	otel.RecordMessageSent(ctx, m.Type, m.Priority)
	s.invalidate(unreadPrefix)

	out := store.MessageModel(m)
	ev := fanout.Event{ID: m.ID, Name: models.EventMessage, Channel: m.Channel, Priority: m.Priority, Data: out}
	if m.ToAgent != nil {
		s.publish(ctx, ev, fanout.To(*m.ToAgent))
	} else {
		s.publish(ctx, ev, fanout.Broadcast(m.FromAgent))
	}
	if m.FromAgent != models.SystemAgent {
		s.touch(ctx, m.FromAgent)
	}
	s.notifyRecipients(ctx, m)
	return &out, nil
}

func (s *Service) notifyRecipients(ctx context.Context, m store.Message) {
	if s.Notify == nil {
		return
	}
	base := notify.Notification{
		Event:     "message",
		From:      m.FromAgent,
		Channel:   m.Channel,
		MessageID: m.ID,
		Type:      m.Type,
		Priority:  m.Priority,
		Preview:   notify.Preview(m.Content),
	}
	if m.Priority == models.PriorityUrgent {
		n := base
		if m.ToAgent != nil {
			n.Agent = *m.ToAgent
		} else {
			n.Agent = "#" + m.Channel
		}
		s.Notify.Urgent(n)
	}
	agents, err := s.roster(ctx)
	if err != nil {
		return
	}
	for _, a := range agents {
		if a.WebhookURL == nil || a.ID == m.FromAgent {
			continue
		}
		if m.ToAgent != nil && a.ID != *m.ToAgent {
			continue
		}
		if m.ToAgent == nil && !s.CanAccess(ctx, m.Channel, a.ID) {
			continue
		}
		n := base
		n.Agent = a.ID
		s.Notify.Webhook(*a.WebhookURL, n)
	}
}

// Messages returns channel messages created after since, oldest first.
// limit defaults to 50 and is capped at 200. A known caller must be able to
// see the channel.
func (s *Service) Messages(ctx context.Context, channel, caller string, since time.Time, limit int) ([]models.Message, error) {
	if channel == "" {
		channel = models.DefaultChannel
	}
	if limit <= 0 {
		limit = models.DefaultMessageListLimit
	}
	if limit > models.MaxMessageListLimit {
		limit = models.MaxMessageListLimit
	}
	if caller != "" && !s.CanAccess(ctx, channel, caller) {
		return nil, errs.Forbidden("%s is not a member of channel %s", caller, channel)
	}
	rows, err := s.Store.ListChannelMessages(ctx, channel, since, limit)
	if err != nil {
		return nil, err
	}
	return store.MessageModels(rows), nil
}

// Backlog returns the agent's unread, unexpired messages from channels it can
// see, highest priority first.
func (s *Service) Backlog(ctx context.Context, agentID string) ([]models.Message, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent is required")
	}
	rows, err := s.Store.ListUnread(ctx, agentID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	seen := map[string]bool{}
	for _, m := range rows {
		allowed, ok := seen[m.Channel]
		if !ok {
			allowed = s.CanAccess(ctx, m.Channel, agentID)
			seen[m.Channel] = allowed
		}
		if allowed {
			out = append(out, store.MessageModel(m))
		}
	}
	return out, nil
}

// UnreadCount returns the agent's unread count, cached briefly.
func (s *Service) UnreadCount(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, errs.Invalid("agent is required")
	}
	load := func() (int, error) { return s.Store.CountUnread(ctx, agentID, s.now()) }
	if s.Cache == nil {
		return load()
	}
	return cache.GetOrLoad(s.Cache, unreadPrefix+agentID, s.UnreadTTL, load)
}

// Ack marks a message delivered or read. status defaults to read.
func (s *Service) Ack(ctx context.Context, id, status string) error {
	now := s.now()
	var err error
	switch strings.ToLower(status) {
	case "", "read":
		err = s.Store.MarkRead(ctx, id, now)
	case "delivered":
		err = s.Store.MarkDelivered(ctx, id, now)
	default:
		return errs.Invalid("status must be delivered or read")
	}
	if err != nil {
		return err
	}
	s.invalidate(unreadPrefix)
	return nil
}

// Pin sets or clears a message's pinned flag.
func (s *Service) Pin(ctx context.Context, id string, pinned bool) error {
	return s.Store.SetMessagePinned(ctx, id, pinned)
}

func (s *Service) Message(ctx context.Context, id string) (*models.Message, error) {
	m, err := s.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.MessageModel(*m)
	return &out, nil
}
