package httpapi

import (
	"net/http"
	"time"

	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

func (a *App) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var body models.EmitEvent
	if !decode(w, r, &body) {
		return
	}
	source, err := a.actor(r, body.SourceAgent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.SourceAgent = source
	ev, err := a.Events.Emit(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, ev)
}

func (a *App) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := a.Events.List(r.Context(), r.URL.Query().Get("type"), int64(queryInt(r, "since", 0)), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

// eventAgent is the subscriber named by the query or the caller's identity,
// falling back to the anonymous agent.
func (a *App) eventAgent(r *http.Request, claimed string) (string, error) {
	agent, err := a.actor(r, claimed)
	if err != nil {
		return "", err
	}
	if agent == "" {
		agent = models.AnonymousAgent
	}
	return agent, nil
}

// EventsConnected opens every /events/stream.
type EventsConnected struct {
	Connected bool   `json:"connected"`
	Agent     string `json:"agent"`
	Timestamp int64  `json:"timestamp"`
}

func (a *App) handleEventStream(w http.ResponseWriter, r *http.Request) {
	agent, err := a.eventAgent(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ack, err := fanout.NewFrame(models.EventConnected, EventsConnected{Connected: true, Agent: agent, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		writeError(w, r, err)
		return
	}
	sink := a.EventRegistry.Subscribe(agent)
	defer a.EventRegistry.Unsubscribe(sink)
	a.pumpSSE(r.Context(), w, flusher, &liveStream{sink: sink, initial: []fanout.Frame{ack}}, agent)
}

func (a *App) handleSubscribeEvents(w http.ResponseWriter, r *http.Request) {
	var body models.SubscribeEvents
	if !decode(w, r, &body) {
		return
	}
	agent, err := a.eventAgent(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := a.Events.Subscribe(r.Context(), agent, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sub)
}

func (a *App) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	agent, err := a.eventAgent(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.Events.Subscriptions(r.Context(), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	agent, err := a.eventAgent(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := a.Events.Unsubscribe(r.Context(), agent, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "deleted": id})
}
