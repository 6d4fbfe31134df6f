package httpapi

import "net/http"

func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /metrics", a.handleMetrics)

	mux.HandleFunc("GET /stream", a.handleStream)
	mux.HandleFunc("GET /ws", a.handleWebSocket)

	// --- Agents ---
	mux.HandleFunc("POST /agents/register", a.handleRegisterAgent)
	mux.HandleFunc("GET /agents", a.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", a.handleGetAgent)
	mux.HandleFunc("POST /agents/{id}/heartbeat", a.handleHeartbeat)

	// --- Messages ---
	mux.HandleFunc("POST /messages", a.handleSendMessage)
	mux.HandleFunc("POST /messages/batch", a.handleSendMessageBatch)
	mux.HandleFunc("POST /batch/messages", a.handleSendMessageBatch)
	mux.HandleFunc("GET /messages", a.handleListMessages)
	mux.HandleFunc("GET /messages/unread", a.handleUnread)
	mux.HandleFunc("GET /messages/unread/count", a.handleUnreadCount)
	mux.HandleFunc("GET /messages/{id}", a.handleGetMessage)
	mux.HandleFunc("POST /messages/{id}/ack", a.handleAckMessage)
	mux.HandleFunc("POST /messages/{id}/pin", a.handlePinMessage)

	// --- Channels ---
	mux.HandleFunc("POST /channels", a.handleCreateChannel)
	mux.HandleFunc("GET /channels", a.handleListChannels)
	mux.HandleFunc("GET /channels/{id}", a.handleGetChannel)
	mux.HandleFunc("PATCH /channels/{id}", a.handleUpdateChannel)
	mux.HandleFunc("GET /channels/{id}/summary", a.handleChannelSummary)
	mux.HandleFunc("GET /channels/{id}/members", a.handleChannelMembers)
	mux.HandleFunc("POST /channels/{id}/join", a.handleJoinChannel)
	mux.HandleFunc("POST /channels/{id}/leave", a.handleLeaveChannel)
	mux.HandleFunc("POST /channels/{id}/invite", a.handleInvite)

	// --- Tasks ---
	mux.HandleFunc("POST /tasks", a.handleCreateTask)
	mux.HandleFunc("POST /tasks/batch", a.handleCreateTaskBatch)
	mux.HandleFunc("PATCH /tasks/batch", a.handleUpdateTaskBatch)
	mux.HandleFunc("GET /tasks", a.handleListTasks)
	mux.HandleFunc("GET /tasks/archived", a.handleArchivedTasks)
	mux.HandleFunc("GET /tasks/ready", a.handleReadyTasks)
	mux.HandleFunc("GET /tasks/blocked", a.handleBlockedTasks)
	mux.HandleFunc("GET /tasks/mine", a.handleMyTasks)
	mux.HandleFunc("GET /tasks/{id}", a.handleGetTask)
	mux.HandleFunc("PATCH /tasks/{id}", a.handleUpdateTask)
	mux.HandleFunc("POST /tasks/{id}/claim", a.handleClaimTask)
	mux.HandleFunc("POST /tasks/{id}/complete", a.handleCompleteTask)

	// --- Delegations ---
	mux.HandleFunc("POST /delegations", a.handleCreateDelegation)
	mux.HandleFunc("GET /delegations", a.handleListDelegations)
	mux.HandleFunc("GET /delegations/active", a.handleActiveDelegations)
	mux.HandleFunc("GET /delegations/{id}", a.handleGetDelegation)
	mux.HandleFunc("PATCH /delegations/{id}", a.handleUpdateDelegation)

	// --- Workflows ---
	mux.HandleFunc("POST /workflows", a.handleCreateWorkflow)
	mux.HandleFunc("GET /workflows", a.handleListWorkflows)
	mux.HandleFunc("GET /workflows/active", a.handleActiveWorkflows)
	mux.HandleFunc("GET /workflows/{id}", a.handleGetWorkflow)
	mux.HandleFunc("DELETE /workflows/{id}", a.handleCancelWorkflow)
	mux.HandleFunc("POST /workflows/{id}/start", a.handleStartWorkflow)
	mux.HandleFunc("POST /workflows/{id}/steps/{step}/complete", a.handleCompleteStep)
	mux.HandleFunc("POST /workflows/{id}/steps/{step}/assign", a.handleAssignStep)

	// --- Sync ---
	mux.HandleFunc("POST /sync/barrier", a.handleCreateBarrier)
	mux.HandleFunc("GET /sync/barrier/{id}", a.handleGetBarrier)
	mux.HandleFunc("POST /sync/barrier/{id}/ready", a.handleBarrierReady)
	mux.HandleFunc("POST /sync/lock", a.handleAcquireLock)
	mux.HandleFunc("DELETE /sync/lock/{resource...}", a.handleReleaseLock)
	mux.HandleFunc("GET /sync/locks", a.handleListLocks)

	// --- Event bus ---
	mux.HandleFunc("POST /events/emit", a.handleEmitEvent)
	mux.HandleFunc("GET /events", a.handleListEvents)
	mux.HandleFunc("GET /events/stream", a.handleEventStream)
	mux.HandleFunc("POST /events/subscribe", a.handleSubscribeEvents)
	mux.HandleFunc("GET /events/subscriptions", a.handleListSubscriptions)
	mux.HandleFunc("DELETE /events/subscriptions/{id}", a.handleDeleteSubscription)

	// --- Presence ---
	mux.HandleFunc("PATCH /presence", a.handleSetPresence)
	mux.HandleFunc("GET /presence", a.handleListPresence)
	mux.HandleFunc("GET /presence/who-is-available", a.handleAvailable)
	mux.HandleFunc("POST /presence/activity", a.handleLogActivity)
	mux.HandleFunc("GET /presence/activity/{agent}", a.handleListActivity)
	mux.HandleFunc("GET /presence/{agent}", a.handleGetPresence)
}
