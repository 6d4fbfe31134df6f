// Package models provides shared types for the agent-comms HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
// Timestamps are unix milliseconds.
package models

import "encoding/json"

// Agent is a registered participant.
type Agent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Platform     *string         `json:"platform"`
	Capabilities []string        `json:"capabilities"`
	CurrentLoad  int             `json:"current_load"`
	LastSeenAt   *int64          `json:"last_seen_at"`
	WebhookURL   *string         `json:"webhook_url,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Online       bool            `json:"online"`
	CreatedAt    int64           `json:"created_at"`
}

// RegisterAgent is the body of POST /agents/register.
type RegisterAgent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Platform     *string         `json:"platform,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	WebhookURL   *string         `json:"webhook_url,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Message is a direct or channel-wide message.
type Message struct {
	ID          string    `json:"id"`
	FromAgent   string    `json:"from_agent"`
	ToAgent     *string   `json:"to_agent"`
	Channel     string    `json:"channel"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	Priority    string    `json:"priority"`
	CreatedAt   int64     `json:"created_at"`
	DeliveredAt *int64    `json:"delivered_at"`
	ReadAt      *int64    `json:"read_at"`
	ReplyTo     *string   `json:"reply_to"`
	Pinned      bool      `json:"pinned"`
	ExpiresAt   *int64    `json:"expires_at"`
}

// UnmarshalJSON decodes metadata into the variant implied by the message type.
func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	var aux struct {
		alias
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = Message(aux.alias)
	md, err := DecodeMetadata(m.Type, aux.Metadata)
	if err != nil {
		return err
	}
	m.Metadata = md
	return nil
}

// SendMessage is the body of POST /messages.
type SendMessage struct {
	FromAgent        string          `json:"from_agent"`
	ToAgent          *string         `json:"to_agent,omitempty"`
	Channel          string          `json:"channel,omitempty"`
	Type             string          `json:"type,omitempty"`
	Content          string          `json:"content"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Priority         string          `json:"priority,omitempty"`
	ReplyTo          *string         `json:"reply_to,omitempty"`
	ExpiresInSeconds int             `json:"expires_in_seconds,omitempty"`
}

// Channel is a named message scope.
type Channel struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	Private       bool    `json:"private"`
	Topic         *string `json:"topic"`
	PinnedContext *string `json:"pinned_context"`
	CreatedBy     *string `json:"created_by"`
	CreatedAt     int64   `json:"created_at"`
}

// Member is a channel membership.
type Member struct {
	ChannelID string `json:"channel_id"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	JoinedAt  int64  `json:"joined_at"`
}

// ChannelSummary condenses the latest messages of a channel.
type ChannelSummary struct {
	Channel      string         `json:"channel"`
	MessageCount int            `json:"message_count"`
	TimeRange    *TimeRange     `json:"time_range"`
	Summary      []SummaryEntry `json:"summary"`
}

// TimeRange is an inclusive [From, To] range in unix milliseconds.
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// SummaryEntry is one clipped message in a ChannelSummary.
type SummaryEntry struct {
	From    string `json:"from"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Time    int64  `json:"time"`
}

// Task is a unit of work. Stale is a presentation flag, never stored.
type Task struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Description          *string  `json:"description"`
	AssignedTo           *string  `json:"assigned_to"`
	CreatedBy            string   `json:"created_by"`
	Status               string   `json:"status"`
	Priority             string   `json:"priority"`
	Channel              string   `json:"channel"`
	DependsOn            []string `json:"depends_on"`
	Deadline             *int64   `json:"deadline"`
	RequiredCapabilities []string `json:"required_capabilities"`
	CreatedAt            int64    `json:"created_at"`
	UpdatedAt            int64    `json:"updated_at"`
	CompletedAt          *int64   `json:"completed_at"`
	Stale                bool     `json:"stale,omitempty"`
	AutoAssigned         bool     `json:"auto_assigned,omitempty"`
}

// BlockedTask is a task annotated with its unmet dependencies.
type BlockedTask struct {
	Task
	BlockingDeps []string `json:"blocking_deps"`
	UnmetDeps    int      `json:"unmet_deps"`
	TotalDeps    int      `json:"total_deps"`
}

// CreateTask is the body of POST /tasks.
type CreateTask struct {
	Title                string   `json:"title"`
	Description          *string  `json:"description,omitempty"`
	AssignedTo           *string  `json:"assigned_to,omitempty"`
	CreatedBy            string   `json:"created_by"`
	Priority             string   `json:"priority,omitempty"`
	Channel              string   `json:"channel,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
	Deadline             *int64   `json:"deadline,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// UpdateTask is the body of PATCH /tasks/{id}; nil fields are unchanged.
type UpdateTask struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	AssignedTo  *string  `json:"assigned_to,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	Deadline    *int64   `json:"deadline,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	UpdatedBy   string   `json:"updated_by,omitempty"`
}

// StepDef defines one workflow step at creation.
type StepDef struct {
	Name                 string   `json:"name"`
	AssignedTo           *string  `json:"assigned_to,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	DependsOnStep        *int     `json:"depends_on_step,omitempty"`
}

// CreateWorkflow is the body of POST /workflows.
type CreateWorkflow struct {
	Name      string    `json:"name"`
	Channel   string    `json:"channel,omitempty"`
	CreatedBy string    `json:"created_by"`
	Steps     []StepDef `json:"steps"`
}

// Workflow is an ordered set of steps with their live state.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Channel     string         `json:"channel"`
	CreatedBy   string         `json:"created_by"`
	Status      string         `json:"status"`
	Steps       []StepDef      `json:"steps"`
	StepRows    []WorkflowStep `json:"step_rows,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	CompletedAt *int64         `json:"completed_at"`
}

// WorkflowStep is the state of one step.
type WorkflowStep struct {
	ID                   string   `json:"id"`
	WorkflowID           string   `json:"workflow_id"`
	Index                int      `json:"step_index"`
	Name                 string   `json:"name"`
	AssignedTo           *string  `json:"assigned_to"`
	RequiredCapabilities []string `json:"required_capabilities"`
	DependsOnStep        *int     `json:"depends_on_step"`
	Status               string   `json:"status"`
	Output               *string  `json:"output"`
	StartedAt            *int64   `json:"started_at"`
	CompletedAt          *int64   `json:"completed_at"`
}

// Barrier is an N-of-N rendezvous.
type Barrier struct {
	ID          string   `json:"id"`
	Agents      []string `json:"agents"`
	ReadyAgents []string `json:"ready_agents"`
	Channel     string   `json:"channel"`
	Cleared     bool     `json:"cleared"`
	CreatedAt   int64    `json:"created_at"`
	ClearedAt   *int64   `json:"cleared_at"`
}

// BarrierSignal is the result of signaling ready.
type BarrierSignal struct {
	Status    string   `json:"status"`
	Agents    []string `json:"agents,omitempty"`
	Ready     []string `json:"ready,omitempty"`
	Remaining []string `json:"remaining,omitempty"`
}

// Lock is a leased hold on a resource.
type Lock struct {
	Resource   string `json:"resource"`
	Agent      string `json:"agent"`
	AcquiredAt int64  `json:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Presence is an agent's status with the read-time effective status.
type Presence struct {
	AgentID         string  `json:"agent_id"`
	Status          string  `json:"status"`
	EffectiveStatus string  `json:"effective_status"`
	StatusText      *string `json:"status_text"`
	CurrentTask     *string `json:"current_task"`
	CurrentChannel  *string `json:"current_channel"`
	Mood            *string `json:"mood"`
	UpdatedAt       int64   `json:"updated_at"`
	ActiveTasks     *int    `json:"active_tasks,omitempty"`
}

// UpdatePresence is the body of PATCH /presence; nil fields are unchanged.
type UpdatePresence struct {
	Status         *string `json:"status,omitempty"`
	StatusText     *string `json:"status_text,omitempty"`
	CurrentTask    *string `json:"current_task,omitempty"`
	CurrentChannel *string `json:"current_channel,omitempty"`
	Mood           *string `json:"mood,omitempty"`
}

// Activity is one activity log entry.
type Activity struct {
	ID       string  `json:"id"`
	AgentID  string  `json:"agent_id"`
	Activity string  `json:"activity"`
	Details  *string `json:"details"`
	At       int64   `json:"timestamp"`
}

// Delegation records a task handed to a sub-agent.
type Delegation struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	TaskTitle     *string `json:"task_title,omitempty"`
	ParentAgent   string  `json:"parent_agent"`
	SubAgentID    string  `json:"sub_agent_id"`
	SubAgentLabel string  `json:"sub_agent_label"`
	Status        string  `json:"status"`
	SpawnedAt     int64   `json:"spawned_at"`
	CompletedAt   *int64  `json:"completed_at"`
	Result        *string `json:"result"`
	Error         *string `json:"error"`
}

// Health is the /health response.
type Health struct {
	Status        string `json:"status"`
	DBLatencyMS   int64  `json:"db_latency_ms"`
	ActiveStreams int    `json:"active_streams"`
	Timestamp     int64  `json:"timestamp"`
	Error         string `json:"error,omitempty"`
}

// Event is a typed record on the event bus. Payload is a JSON object or null.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SourceAgent string          `json:"source_agent"`
	Channel     *string         `json:"channel"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   int64           `json:"created_at"`
}

// EmitEvent is the body of POST /events/emit.
type EmitEvent struct {
	Type        string          `json:"type"`
	SourceAgent string          `json:"source_agent"`
	Channel     *string         `json:"channel,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EventSubscription routes bus events of one type to an agent.
type EventSubscription struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	EventType  string         `json:"event_type"`
	WebhookURL *string        `json:"webhook_url"`
	Filter     map[string]any `json:"filter"`
	CreatedAt  int64          `json:"created_at"`
}

// SubscribeEvents is the body of POST /events/subscribe.
type SubscribeEvents struct {
	Agent      string         `json:"agent,omitempty"`
	EventType  string         `json:"event_type"`
	WebhookURL *string        `json:"webhook_url,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
}
