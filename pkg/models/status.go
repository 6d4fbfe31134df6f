package models

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskArchived   = "archived"
	TaskBlocked    = "blocked"
)

// Workflow statuses.
const (
	WorkflowDraft     = "draft"
	WorkflowActive    = "active"
	WorkflowCompleted = "completed"
	WorkflowCancelled = "cancelled"
)

// Workflow step statuses.
const (
	StepPending   = "pending"
	StepActive    = "active"
	StepCompleted = "completed"
)

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceBusy    = "busy"
	PresenceAway    = "away"
	PresenceDND     = "dnd"
	PresenceOffline = "offline"
)

// Message and task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Message types.
const (
	TypeChat         = "chat"
	TypeTask         = "task"
	TypeStatusUpdate = "status_update"
	TypeHandoff      = "handoff"
	TypeCodeReview   = "code_review"
	TypeApproval     = "approval"
	TypeBroadcast    = "broadcast"
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeHeartbeat    = "heartbeat"
	TypeCoordination = "coordination"
	TypeDelegation   = "delegation"
)

// Channel membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Delegation statuses.
const (
	DelegationRunning   = "running"
	DelegationCompleted = "completed"
	DelegationFailed    = "failed"
)

// Barrier signal results.
const (
	BarrierCleared      = "cleared"
	BarrierWaiting      = "waiting"
	BarrierAlreadyReady = "already_ready"
)

// Stream event categories (the SSE "event:" field).
const (
	EventMessage            = "message"
	EventUrgent             = "urgent"
	EventSystem             = "system"
	EventHeartbeat          = "heartbeat"
	EventPresence           = "presence"
	EventTaskCreated        = "task_created"
	EventTaskClaimed        = "task_claimed"
	EventTaskCompleted      = "task_completed"
	EventWorkflowStepActive = "workflow_step_active"
	EventWorkflowCompleted  = "workflow_completed"
	EventBus                = "event"
	EventConnected          = "connected"
)

// SystemAgent is the sender id of hub-authored messages.
const SystemAgent = "system"

// AnonymousAgent owns event subscriptions made without an agent id.
const AnonymousAgent = "anonymous"

// DefaultChannel is used when a message, task or barrier names none.
const DefaultChannel = "general"

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTaskListLimit       = 1000
	DefaultMessageListLimit    = 50
	MaxMessageListLimit        = 200
	DefaultActivityLimit       = 20
	MaxActivityLimit           = 100
	DefaultDelegationLimit     = 100
	DefaultSinkBuffer          = 256
	DefaultLockTTLSeconds      = 300
)

var validTypes = map[string]bool{
	TypeChat: true, TypeTask: true, TypeStatusUpdate: true, TypeHandoff: true, TypeCodeReview: true,
	TypeApproval: true, TypeBroadcast: true, TypeRequest: true, TypeResponse: true, TypeHeartbeat: true,
	TypeCoordination: true, TypeDelegation: true,
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool { return validTypes[t] }

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PriorityRank orders priorities for backlog delivery: urgent first.
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// ValidPresenceStatus reports whether s is a settable presence status.
func ValidPresenceStatus(s string) bool {
	switch s {
	case PresenceOnline, PresenceBusy, PresenceAway, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// ValidTaskStatus reports whether s is a task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskArchived, TaskBlocked:
		return true
	}
	return false
}
