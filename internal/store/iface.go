package store

import (
	"context"
	"time"
)

// Store is the persistence interface for the coordination hub.
// Every write is a single atomic statement unless noted; Get* methods return an
// errs.ErrNotFound error for unknown ids.
// Implementations: SQLite (Open) and PostgreSQL (postgres.Open), both over database/sql.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Agents
	UpsertAgent(ctx context.Context, a Agent) (*Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	TouchAgent(ctx context.Context, id string, at time.Time) (bool, error)
	AdjustAgentLoad(ctx context.Context, id string, delta int) error

	// Messages
	InsertMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListChannelMessages(ctx context.Context, channel string, since time.Time, limit int) ([]Message, error)
	RecentChannelMessages(ctx context.Context, channel string, limit int) ([]Message, error)
	ListUnread(ctx context.Context, agentID string, now time.Time) ([]Message, error)
	CountUnread(ctx context.Context, agentID string, now time.Time) (int, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRead(ctx context.Context, id string, at time.Time) error
	SetMessagePinned(ctx context.Context, id string, pinned bool) error

	// Channels
	CreateChannel(ctx context.Context, c Channel) (bool, error)
	GetChannel(ctx context.Context, id string) (*Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	UpdateChannel(ctx context.Context, id string, topic, pinnedContext *string) error
	SetChannelInvite(ctx context.Context, id, code string) error
	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, channelID, agentID string) (bool, error)
	ListMembers(ctx context.Context, channelID string) ([]Member, error)
	IsMember(ctx context.Context, channelID, agentID string) (bool, error)

	// Tasks
	InsertTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)
	ClaimTask(ctx context.Context, id, agentID string, at time.Time) (bool, error)
	CompleteTask(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch, at time.Time) error
	SetTaskStatus(ctx context.Context, id, status string, at time.Time) error
	ArchiveDoneBefore(ctx context.Context, cutoff, at time.Time) (int64, error)
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)
	CountActiveTasks(ctx context.Context, agentID string) (int, error)

	// Workflows
	CreateWorkflow(ctx context.Context, w Workflow, steps []WorkflowStep) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, status string) ([]Workflow, error)
	ListSteps(ctx context.Context, workflowID string) ([]WorkflowStep, error)
	GetStep(ctx context.Context, workflowID, stepID string) (*WorkflowStep, error)
	TransitionWorkflow(ctx context.Context, id string, from []string, to string, at time.Time) (bool, error)
	ActivateStep(ctx context.Context, stepID string, at time.Time) (bool, error)
	CompleteStep(ctx context.Context, stepID string, output *string, at time.Time) (bool, error)
	AssignStep(ctx context.Context, workflowID, stepID, agentID string) error

	// Barriers
	CreateBarrier(ctx context.Context, b Barrier) error
	GetBarrier(ctx context.Context, id string) (*Barrier, error)
	AddBarrierReady(ctx context.Context, id, agentID string, at time.Time) (bool, error)
	ClearBarrier(ctx context.Context, id string, at time.Time) (bool, error)

	// Locks
	PurgeExpiredLocks(ctx context.Context, resource string, now time.Time) (int64, error)
	InsertLock(ctx context.Context, l Lock) (bool, error)
	GetLock(ctx context.Context, resource string) (*Lock, error)
	DeleteLock(ctx context.Context, resource, holder string) (bool, error)
	ListLocks(ctx context.Context) ([]Lock, error)

	// Presence
	UpsertPresence(ctx context.Context, agentID string, p PresencePatch, at time.Time) error
	GetPresence(ctx context.Context, agentID string) (*Presence, error)
	ListPresence(ctx context.Context) ([]Presence, error)
	InsertActivity(ctx context.Context, a Activity) error
	ListActivity(ctx context.Context, agentID string, limit int) ([]Activity, error)

	// Delegations
	InsertDelegation(ctx context.Context, d Delegation) error
	GetDelegation(ctx context.Context, id string) (*Delegation, error)
	ListDelegations(ctx context.Context, f DelegationFilter) ([]Delegation, error)
	UpdateDelegation(ctx context.Context, id, status string, result, errText *string, completedAt *time.Time) error

	// Event bus
	InsertEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	PurgeEvents(ctx context.Context, cutoff time.Time) (int64, error)
	InsertSubscription(ctx context.Context, sub EventSubscription) error
	ListSubscriptions(ctx context.Context, agentID, eventType string) ([]EventSubscription, error)
	DeleteSubscription(ctx context.Context, id, agentID string) error
}
