package httpapi

import (
	"net/http"

	"github.com/SikeGottem/agent-comms/internal/coord"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// --- Workflows ---

func (a *App) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body models.CreateWorkflow
	if !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.CreatedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.CreatedBy = by
	wf, err := a.Workflows.Create(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, wf)
}

func (a *App) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := a.Workflows.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleActiveWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := a.Workflows.List(r.Context(), models.WorkflowActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := a.Workflows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, wf)
}

func (a *App) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := a.Workflows.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, wf)
}

func (a *App) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := a.Workflows.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, wf)
}

func (a *App) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Output *string `json:"output"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	step, err := a.Workflows.CompleteStep(r.Context(), r.PathValue("id"), r.PathValue("step"), body.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, step)
}

func (a *App) handleAssignStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
	}
	if !decode(w, r, &body) {
		return
	}
	step, err := a.Workflows.AssignStep(r.Context(), r.PathValue("id"), r.PathValue("step"), body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, step)
}

// --- Sync ---

func (a *App) handleCreateBarrier(w http.ResponseWriter, r *http.Request) {
	var body coord.CreateBarrier
	if !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.CreatedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.CreatedBy = by
	b, err := a.Coord.CreateBarrier(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, b)
}

func (a *App) handleGetBarrier(w http.ResponseWriter, r *http.Request) {
	b, err := a.Coord.Barrier(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (a *App) handleBarrierReady(w http.ResponseWriter, r *http.Request) {
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
	sig, err := a.Coord.SignalReady(r.Context(), r.PathValue("id"), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sig)
}

func (a *App) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	var body coord.AcquireLock
	if !decode(w, r, &body) {
		return
	}
	agent, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.Agent = agent
	l, err := a.Coord.Acquire(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, l)
}

func (a *App) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == "" {
		writeJSONError(w, http.StatusBadRequest, "agent required")
		return
	}
	if err := a.Coord.Release(r.Context(), r.PathValue("resource"), agent); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, okBody())
}

func (a *App) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := a.Coord.Locks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, locks)
}

// --- Presence ---

func (a *App) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
		models.UpdatePresence
	}
	if !decode(w, r, &body) {
		return
	}
	claimed := body.Agent
	if claimed == "" {
		claimed = r.URL.Query().Get("agent")
	}
	agent, err := a.actor(r, claimed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.Presence.Set(r.Context(), agent, body.UpdatePresence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (a *App) handleListPresence(w http.ResponseWriter, r *http.Request) {
	list, err := a.Presence.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := a.Presence.Available(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	d, err := a.Presence.Get(r.Context(), r.PathValue("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (a *App) handleLogActivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent    string  `json:"agent"`
		Activity string  `json:"activity"`
		Details  *string `json:"details"`
	}
	if !decode(w, r, &body) {
		return
	}
	agent, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	act, err := a.Presence.LogActivity(r.Context(), agent, body.Activity, body.Details)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, act)
}

func (a *App) handleListActivity(w http.ResponseWriter, r *http.Request) {
	list, err := a.Presence.Activity(r.Context(), r.PathValue("agent"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}
