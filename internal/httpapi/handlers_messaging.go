package httpapi

import (
	"net/http"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/messaging"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// --- Agents ---

func (a *App) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body models.RegisterAgent
	if !decode(w, r, &body) {
		return
	}
	id, err := a.actor(r, body.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.ID = id
	agent, err := a.Messaging.Register(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, agent)
}

func (a *App) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.Messaging.Agents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, agents)
}

func (a *App) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.Messaging.Agent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, agent)
}

func (a *App) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := a.actor(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Messaging.Heartbeat(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, okBody())
}

// --- Messages ---

func (a *App) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body models.SendMessage
	if !decode(w, r, &body) {
		return
	}
	from, err := a.actor(r, body.FromAgent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.FromAgent = from
	msg, err := a.Messaging.Send(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, msg)
}

func (a *App) handleSendMessageBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []models.SendMessage `json:"messages"`
	}
	if !decode(w, r, &body) {
		return
	}
	for i := range body.Messages {
		from, err := a.actor(r, body.Messages[i].FromAgent)
		if err != nil {
			writeError(w, r, err)
			return
		}
		body.Messages[i].FromAgent = from
	}
	created, err := a.Messaging.SendBatch(r.Context(), body.Messages)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"ok": true, "created": created})
}

func (a *App) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if ms := queryInt(r, "since", 0); ms > 0 {
		since = time.UnixMilli(int64(ms))
	}
	caller, err := a.actor(r, q.Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := a.Messaging.Messages(r.Context(), q.Get("channel"), caller, since, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, msgs)
}

func (a *App) handleUnread(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := a.Messaging.Backlog(r.Context(), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, msgs)
}

func (a *App) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Messaging.UnreadCount(r.Context(), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"agent": agent, "unread": n})
}

func (a *App) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.Messaging.Message(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, msg)
}

func (a *App) handleAckMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	if err := a.Messaging.Ack(r.Context(), r.PathValue("id"), body.Status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, okBody())
}

func (a *App) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Pinned *bool `json:"pinned"`
	}{}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	pinned := body.Pinned == nil || *body.Pinned
	if err := a.Messaging.Pin(r.Context(), r.PathValue("id"), pinned); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "pinned": pinned})
}

// --- Channels ---

func (a *App) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var body messaging.CreateChannel
	if !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.CreatedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.CreatedBy = by
	res, err := a.Messaging.CreateChannel(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSONStatus(w, code, res)
}

func (a *App) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chans, err := a.Messaging.Channels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, chans)
}

func (a *App) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	c, err := a.Messaging.Channel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (a *App) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Topic         *string `json:"topic"`
		PinnedContext *string `json:"pinned_context"`
		Agent         string  `json:"agent"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Messaging.UpdateChannel(r.Context(), r.PathValue("id"), caller, body.Topic, body.PinnedContext)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (a *App) handleChannelSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if caller != "" && !a.Messaging.CanAccess(r.Context(), id, caller) {
		writeError(w, r, errs.Forbidden("%s is not a member of channel %s", caller, id))
		return
	}
	sum, err := a.Messaging.Summary(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sum)
}

func (a *App) handleChannelMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.Messaging.Members(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, members)
}

func (a *App) handleJoinChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent      string `json:"agent"`
		InviteCode string `json:"invite_code"`
	}
	if !decode(w, r, &body) {
		return
	}
	agent, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := a.Messaging.Join(r.Context(), r.PathValue("id"), agent, body.InviteCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (a *App) handleLeaveChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	agent, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == "" {
		writeJSONError(w, http.StatusBadRequest, "agent required")
		return
	}
	if err := a.Messaging.Leave(r.Context(), r.PathValue("id"), agent); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, okBody())
}

func (a *App) handleInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	caller, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, err := a.Messaging.Invite(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"channel": r.PathValue("id"), "invite_code": code})
}
