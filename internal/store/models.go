// Package store defines the persistence interface and shared models for agents, messages,
// channels, tasks, workflows, barriers, locks, presence and delegations.
package store

import (
	"encoding/json"
	"time"
)

// Agent is a registered participant that sends and receives messages and can be assigned work.
type Agent struct {
	ID           string
	Name         string
	Platform     *string
	Capabilities []string
	CurrentLoad  int
	LastSeenAt   *time.Time
	WebhookURL   *string
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

// HasCapabilities reports whether the agent declares every capability in required.
func (a Agent) HasCapabilities(required []string) bool {
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Message is a direct (ToAgent set) or channel-wide (ToAgent nil) message.
type Message struct {
	ID          string
	FromAgent   string
	ToAgent     *string
	Channel     string
	Type        string
	Content     string
	Metadata    json.RawMessage
	Priority    string
	CreatedAt   time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	ReplyTo     *string
	Pinned      bool
	ExpiresAt   *time.Time
}

// Channel is a named message scope; private channels restrict access to members.
type Channel struct {
	ID            string
	Name          string
	Description   *string
	Private       bool
	Topic         *string
	PinnedContext *string
	InviteCode    *string
	CreatedBy     *string
	CreatedAt     time.Time
}

// Member is an agent's membership in a channel.
type Member struct {
	ChannelID string
	AgentID   string
	Role      string
	JoinedAt  time.Time
}

// Task is a unit of work with an optional dependency set.
type Task struct {
	ID                   string
	Title                string
	Description          *string
	AssignedTo           *string
	CreatedBy            string
	Status               string
	Priority             string
	Channel              string
	DependsOn            []string
	Deadline             *time.Time
	RequiredCapabilities []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

// TaskFilter narrows ListTasks. Zero values match everything except archived tasks.
type TaskFilter struct {
	Status          string
	Channel         string
	Priority        string
	AssignedTo      string
	IncludeArchived bool
	Limit           int
}

// TaskPatch is a partial task update; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	AssignedTo  *string
	Status      *string
	Priority    *string
	Channel     *string
	Deadline    *time.Time
	DependsOn   []string
}

// StepDef is a workflow step definition as submitted at creation.
type StepDef struct {
	Name                 string   `json:"name"`
	AssignedTo           *string  `json:"assigned_to,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	DependsOnStep        *int     `json:"depends_on_step,omitempty"`
}

// Workflow is an ordered set of steps.
type Workflow struct {
	ID          string
	Name        string
	Channel     string
	CreatedBy   string
	Status      string
	Steps       []StepDef
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// WorkflowStep is the materialized state of one step definition.
type WorkflowStep struct {
	ID                   string
	WorkflowID           string
	Index                int
	Name                 string
	AssignedTo           *string
	RequiredCapabilities []string
	DependsOnStep        *int
	Status               string
	Output               *string
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// Barrier is an N-of-N rendezvous. Participants keep creation order.
type Barrier struct {
	ID           string
	Participants []string
	Ready        []string
	Channel      string
	CreatedBy    *string
	Cleared      bool
	CreatedAt    time.Time
	ClearedAt    *time.Time
}

// Remaining returns the participants that have not signaled ready.
func (b Barrier) Remaining() []string {
	ready := make(map[string]struct{}, len(b.Ready))
	for _, a := range b.Ready {
		ready[a] = struct{}{}
	}
	out := []string{}
	for _, p := range b.Participants {
		if _, ok := ready[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Lock is a leased hold on a named resource.
type Lock struct {
	Resource   string
	Agent      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Presence is an agent's last explicitly set status.
type Presence struct {
	AgentID        string
	Status         string
	StatusText     *string
	CurrentTask    *string
	CurrentChannel *string
	Mood           *string
	UpdatedAt      time.Time
}

// PresencePatch is a partial presence update. A non-nil empty string clears the field.
type PresencePatch struct {
	Status         *string
	StatusText     *string
	CurrentTask    *string
	CurrentChannel *string
	Mood           *string
}

// Activity is one entry of an agent's activity log.
type Activity struct {
	ID       string
	AgentID  string
	Activity string
	Details  *string
	At       time.Time
}

// Delegation records a task handed to a sub-agent.
type Delegation struct {
	ID            string
	TaskID        string
	TaskTitle     *string
	ParentAgent   string
	SubAgentID    string
	SubAgentLabel string
	Status        string
	SpawnedAt     time.Time
	CompletedAt   *time.Time
	Result        *string
	Error         *string
}

// DelegationFilter narrows ListDelegations.
type DelegationFilter struct {
	TaskID      string
	ParentAgent string
	Status      string
	Limit       int
}

// Event is one record on the typed event bus.
type Event struct {
	ID          string
	Type        string
	SourceAgent string
	Channel     *string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type  string
	Since time.Time
	Limit int
}

// EventSubscription routes bus events of one type to an agent's event stream,
// or to WebhookURL when set. Filter is a JSON object of fields to match.
type EventSubscription struct {
	ID         string
	AgentID    string
	EventType  string
	WebhookURL *string
	Filter     json.RawMessage
	CreatedAt  time.Time
}
