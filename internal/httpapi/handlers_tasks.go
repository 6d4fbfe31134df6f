package httpapi

import (
	"net/http"

	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/internal/tasks"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// --- Tasks ---

func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body models.CreateTask
	if !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.CreatedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.CreatedBy = by
	t, err := a.Tasks.Create(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, t)
}

func (a *App) handleCreateTaskBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tasks []models.CreateTask `json:"tasks"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller, err := a.actor(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range body.Tasks {
		if body.Tasks[i].CreatedBy == "" {
			body.Tasks[i].CreatedBy = caller
		} else if _, err := a.actor(r, body.Tasks[i].CreatedBy); err != nil {
			writeError(w, r, err)
			return
		}
	}
	created, err := a.Tasks.CreateBatch(r.Context(), body.Tasks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

// batchResult is one entry of a PATCH /tasks/batch response.
type batchResult struct {
	ID    string       `json:"id"`
	Task  *models.Task `json:"task,omitempty"`
	Error string       `json:"error,omitempty"`
}

func (a *App) handleUpdateTaskBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Updates []struct {
			ID string `json:"id"`
			models.UpdateTask
		} `json:"updates"`
	}
	if !decode(w, r, &body) {
		return
	}
	if len(body.Updates) == 0 {
		writeJSONError(w, http.StatusBadRequest, "updates required")
		return
	}
	out := make([]batchResult, 0, len(body.Updates))
	for _, u := range body.Updates {
		res := batchResult{ID: u.ID}
		by, err := a.actor(r, u.UpdatedBy)
		if err == nil {
			u.UpdatedBy = by
			res.Task, err = a.Tasks.Update(r.Context(), u.ID, u.UpdateTask)
		}
		if err != nil {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	writeJSON(w, map[string]any{"results": out})
}

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TaskFilter{
		Status:          q.Get("status"),
		Channel:         q.Get("channel"),
		Priority:        q.Get("priority"),
		AssignedTo:      q.Get("assigned_to"),
		IncludeArchived: q.Get("include_archived") == "true",
		Limit:           queryInt(r, "limit", 0),
	}
	list, err := a.Tasks.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleArchivedTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.Tasks.Archived(r.Context(), r.URL.Query().Get("channel"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.Tasks.Ready(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleBlockedTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.Tasks.Blocked(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == "" {
		writeJSONError(w, http.StatusBadRequest, "agent required")
		return
	}
	list, err := a.Tasks.Mine(r.Context(), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body models.UpdateTask
	if !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.UpdatedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.UpdatedBy = by
	t, err := a.Tasks.Update(r.Context(), r.PathValue("id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) handleClaimTask(w http.ResponseWriter, r *http.Request) {
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
	t, err := a.Tasks.Claim(r.Context(), r.PathValue("id"), agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent  string  `json:"agent"`
		Output *string `json:"output"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	by, err := a.actor(r, body.Agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := a.Tasks.Complete(r.Context(), r.PathValue("id"), by, body.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t)
}

// --- Delegations ---

func (a *App) handleCreateDelegation(w http.ResponseWriter, r *http.Request) {
	var body tasks.CreateDelegation
	if !decode(w, r, &body) {
		return
	}
	parent, err := a.actor(r, body.ParentAgent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body.ParentAgent = parent
	d, err := a.Tasks.Delegate(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, d)
}

func (a *App) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a.listDelegations(w, r, store.DelegationFilter{
		TaskID:      q.Get("task_id"),
		ParentAgent: q.Get("parent_agent"),
		Status:      q.Get("status"),
		Limit:       queryInt(r, "limit", 0),
	})
}

func (a *App) handleActiveDelegations(w http.ResponseWriter, r *http.Request) {
	a.listDelegations(w, r, store.DelegationFilter{
		ParentAgent: r.URL.Query().Get("parent_agent"),
		Status:      models.DelegationRunning,
	})
}

func (a *App) listDelegations(w http.ResponseWriter, r *http.Request, f store.DelegationFilter) {
	list, err := a.Tasks.Delegations(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleGetDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := a.Tasks.Delegation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (a *App) handleUpdateDelegation(w http.ResponseWriter, r *http.Request) {
	var body tasks.UpdateDelegation
	if !decode(w, r, &body) {
		return
	}
	d, err := a.Tasks.UpdateDelegation(r.Context(), r.PathValue("id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, d)
}
