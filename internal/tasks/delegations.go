package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// CreateDelegation is the body of POST /delegations.
type CreateDelegation struct {
	TaskID        string `json:"task_id"`
	ParentAgent   string `json:"parent_agent"`
	SubAgentID    string `json:"sub_agent_id"`
	SubAgentLabel string `json:"sub_agent_label"`
}

// UpdateDelegation is the body of PATCH /delegations/{id}.
type UpdateDelegation struct {
	Status string  `json:"status"`
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Delegate records that parent handed a task to a sub-agent and announces it.
func (e *Engine) Delegate(ctx context.Context, in CreateDelegation) (*models.Delegation, error) {
	if in.TaskID == "" || in.ParentAgent == "" || in.SubAgentID == "" || in.SubAgentLabel == "" {
		return nil, errs.Invalid("task_id, parent_agent, sub_agent_id and sub_agent_label are required")
	}
	t, err := e.Store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	d := store.Delegation{
		ID:            store.NewID(),
		TaskID:        in.TaskID,
		ParentAgent:   in.ParentAgent,
		SubAgentID:    in.SubAgentID,
		SubAgentLabel: in.SubAgentLabel,
		Status:        models.DelegationRunning,
		SpawnedAt:     e.Now(),
	}
	if err := e.Store.InsertDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("insert delegation: %w", err)
	}
	e.post(ctx, models.SendMessage{
		FromAgent: in.ParentAgent,
		Channel:   t.Channel,
		Type:      models.TypeDelegation,
		Content:   fmt.Sprintf("Delegating %q to sub-agent %s", t.Title, in.SubAgentLabel),
	}, models.DelegationRef{TaskID: t.ID, DelegationID: d.ID, SubAgentID: in.SubAgentID})
	d.TaskTitle = &t.Title
	out := store.DelegationModel(d)
	return &out, nil
}

// Delegations lists delegations newest first. limit defaults to and is capped at 100.
func (e *Engine) Delegations(ctx context.Context, f store.DelegationFilter) ([]models.Delegation, error) {
	if f.Limit <= 0 || f.Limit > models.DefaultDelegationLimit {
		f.Limit = models.DefaultDelegationLimit
	}
	rows, err := e.Store.ListDelegations(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]models.Delegation, 0, len(rows))
	for _, d := range rows {
		out = append(out, store.DelegationModel(d))
	}
	return out, nil
}

func (e *Engine) Delegation(ctx context.Context, id string) (*models.Delegation, error) {
	d, err := e.Store.GetDelegation(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.DelegationModel(*d)
	return &out, nil
}

// UpdateDelegation records a sub-agent's progress. Completed completes the
// parent task through the normal completion path; failed blocks it.
func (e *Engine) UpdateDelegation(ctx context.Context, id string, in UpdateDelegation) (*models.Delegation, error) {
	switch in.Status {
	case models.DelegationRunning, models.DelegationCompleted, models.DelegationFailed:
	default:
		return nil, errs.Invalid("status must be running, completed, or failed")
	}
	d, err := e.Store.GetDelegation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	completedAt := &now
	if in.Status == models.DelegationRunning {
		completedAt = nil
	}
	if err := e.Store.UpdateDelegation(ctx, id, in.Status, in.Result, in.Error, completedAt); err != nil {
		return nil, err
	}

	if t, err := e.Store.GetTask(ctx, d.TaskID); err == nil {
		ref := models.DelegationRef{TaskID: t.ID, DelegationID: id, SubAgentID: d.SubAgentID}
		switch in.Status {
		case models.DelegationCompleted:
			if _, err := e.Complete(ctx, t.ID, d.ParentAgent, in.Result); err != nil && !errors.Is(err, errs.ErrConflict) {
				return nil, err
			}
			summary := "No summary"
			if in.Result != nil && *in.Result != "" {
				summary = clip(*in.Result, 200)
			}
			e.post(ctx, models.SendMessage{
				FromAgent: models.SystemAgent,
				Channel:   t.Channel,
				Type:      models.TypeDelegation,
				Content:   fmt.Sprintf("Sub-agent %s completed task: %s. Result: %s", d.SubAgentLabel, t.Title, summary),
			}, ref)
		case models.DelegationFailed:
			if err := e.Block(ctx, t.ID); err != nil && !errors.Is(err, errs.ErrConflict) {
				return nil, err
			}
			msg := "Unknown error"
			if in.Error != nil && *in.Error != "" {
				msg = *in.Error
			}
			e.post(ctx, models.SendMessage{
				FromAgent: models.SystemAgent,
				Channel:   t.Channel,
				Type:      models.TypeDelegation,
				Content:   fmt.Sprintf("Sub-agent %s failed on: %s. Error: %s", d.SubAgentLabel, t.Title, msg),
			}, ref)
		}
	}
	return e.Delegation(ctx, id)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
