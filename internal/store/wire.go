package store

import (
	"encoding/json"
	"time"

	"github.com/SikeGottem/agent-comms/pkg/models"
)

// Conversions to the API shapes in pkg/models. Timestamps become unix milliseconds.

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// AgentModel converts a to its API shape. online is computed by the caller.
func AgentModel(a Agent, online bool) models.Agent {
	return models.Agent{
		ID:           a.ID,
		Name:         a.Name,
		Platform:     a.Platform,
		Capabilities: nonNil(a.Capabilities),
		CurrentLoad:  a.CurrentLoad,
		LastSeenAt:   msPtr(a.LastSeenAt),
		WebhookURL:   a.WebhookURL,
		Metadata:     a.Metadata,
		Online:       online,
		CreatedAt:    a.CreatedAt.UnixMilli(),
	}
}

// MessageModel converts m, decoding its metadata into the typed variant.
// Undecodable metadata is dropped.
func MessageModel(m Message) models.Message {
	md, _ := models.DecodeMetadata(m.Type, m.Metadata)
	return models.Message{
		ID:          m.ID,
		FromAgent:   m.FromAgent,
		ToAgent:     m.ToAgent,
		Channel:     m.Channel,
		Type:        m.Type,
		Content:     m.Content,
		Metadata:    md,
		Priority:    m.Priority,
		CreatedAt:   m.CreatedAt.UnixMilli(),
		DeliveredAt: msPtr(m.DeliveredAt),
		ReadAt:      msPtr(m.ReadAt),
		ReplyTo:     m.ReplyTo,
		Pinned:      m.Pinned,
		ExpiresAt:   msPtr(m.ExpiresAt),
	}
}

// MessageModels converts a slice of messages.
func MessageModels(in []Message) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		out = append(out, MessageModel(m))
	}
	return out
}

func ChannelModel(c Channel) models.Channel {
	return models.Channel{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Private:       c.Private,
		Topic:         c.Topic,
		PinnedContext: c.PinnedContext,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     c.CreatedAt.UnixMilli(),
	}
}

func MemberModel(m Member) models.Member {
	return models.Member{ChannelID: m.ChannelID, AgentID: m.AgentID, Role: m.Role, JoinedAt: m.JoinedAt.UnixMilli()}
}

func TaskModel(t Task) models.Task {
	return models.Task{
		ID:                   t.ID,
		Title:                t.Title,
		Description:          t.Description,
		AssignedTo:           t.AssignedTo,
		CreatedBy:            t.CreatedBy,
		Status:               t.Status,
		Priority:             t.Priority,
		Channel:              t.Channel,
		DependsOn:            nonNil(t.DependsOn),
		Deadline:             msPtr(t.Deadline),
		RequiredCapabilities: nonNil(t.RequiredCapabilities),
		CreatedAt:            t.CreatedAt.UnixMilli(),
		UpdatedAt:            t.UpdatedAt.UnixMilli(),
		CompletedAt:          msPtr(t.CompletedAt),
	}
}

func StepModel(s WorkflowStep) models.WorkflowStep {
	return models.WorkflowStep{
		ID:                   s.ID,
		WorkflowID:           s.WorkflowID,
		Index:                s.Index,
		Name:                 s.Name,
		AssignedTo:           s.AssignedTo,
		RequiredCapabilities: nonNil(s.RequiredCapabilities),
		DependsOnStep:        s.DependsOnStep,
		Status:               s.Status,
		Output:               s.Output,
		StartedAt:            msPtr(s.StartedAt),
		CompletedAt:          msPtr(s.CompletedAt),
	}
}

// WorkflowModel converts w with its step rows, which may be nil.
func WorkflowModel(w Workflow, steps []WorkflowStep) models.Workflow {
	defs := make([]models.StepDef, 0, len(w.Steps))
	for _, d := range w.Steps {
		defs = append(defs, models.StepDef{
			Name:                 d.Name,
			AssignedTo:           d.AssignedTo,
			RequiredCapabilities: d.RequiredCapabilities,
			DependsOnStep:        d.DependsOnStep,
		})
	}
	out := models.Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Channel:     w.Channel,
		CreatedBy:   w.CreatedBy,
		Status:      w.Status,
		Steps:       defs,
		CreatedAt:   w.CreatedAt.UnixMilli(),
		UpdatedAt:   w.UpdatedAt.UnixMilli(),
		CompletedAt: msPtr(w.CompletedAt),
	}
	for _, s := range steps {
		out.StepRows = append(out.StepRows, StepModel(s))
	}
	return out
}

func BarrierModel(b Barrier) models.Barrier {
	return models.Barrier{
		ID:          b.ID,
		Agents:      nonNil(b.Participants),
		ReadyAgents: nonNil(b.Ready),
		Channel:     b.Channel,
		Cleared:     b.Cleared,
		CreatedAt:   b.CreatedAt.UnixMilli(),
		ClearedAt:   msPtr(b.ClearedAt),
	}
}

func LockModel(l Lock) models.Lock {
	return models.Lock{
		Resource:   l.Resource,
		Agent:      l.Agent,
		AcquiredAt: l.AcquiredAt.UnixMilli(),
		ExpiresAt:  l.ExpiresAt.UnixMilli(),
	}
}

func ActivityModel(a Activity) models.Activity {
	return models.Activity{ID: a.ID, AgentID: a.AgentID, Activity: a.Activity, Details: a.Details, At: a.At.UnixMilli()}
}

func DelegationModel(d Delegation) models.Delegation {
	return models.Delegation{
		ID:            d.ID,
		TaskID:        d.TaskID,
		TaskTitle:     d.TaskTitle,
		ParentAgent:   d.ParentAgent,
		SubAgentID:    d.SubAgentID,
		SubAgentLabel: d.SubAgentLabel,
		Status:        d.Status,
		SpawnedAt:     d.SpawnedAt.UnixMilli(),
		CompletedAt:   msPtr(d.CompletedAt),
		Result:        d.Result,
		Error:         d.Error,
	}
}

func EventModel(e Event) models.Event {
	return models.Event{
		ID:          e.ID,
		Type:        e.Type,
		SourceAgent: e.SourceAgent,
		Channel:     e.Channel,
		Payload:     e.Payload,
		CreatedAt:   e.CreatedAt.UnixMilli(),
	}
}

// SubscriptionModel decodes the stored filter; an unreadable one comes back nil.
func SubscriptionModel(s EventSubscription) models.EventSubscription {
	out := models.EventSubscription{
		ID:         s.ID,
		AgentID:    s.AgentID,
		EventType:  s.EventType,
		WebhookURL: s.WebhookURL,
		CreatedAt:  s.CreatedAt.UnixMilli(),
	}
	if len(s.Filter) > 0 {
		_ = json.Unmarshal(s.Filter, &out.Filter)
	}
	return out
}
