// Package workflow runs ordered step state machines. A workflow moves
// draft -> active -> completed, or to cancelled from any non-terminal state.
// Each step moves pending -> active -> completed and may only become active
// once its predecessor step, if it declares one, is completed.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

// ListLimit caps List results.
const ListLimit = 100

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Messenger persists and delivers a message.
type Messenger interface {
	Send(ctx context.Context, in models.SendMessage) (*models.Message, error)
}

// Engine drives workflows through the store. Every transition is a single
// conditional write, so concurrent callers cannot double-apply one.
type Engine struct {
	Store store.Store
	Pub   Publisher
	Msg   Messenger
	Now   func() time.Time
}

func New(st store.Store, pub Publisher, msg Messenger) *Engine {
	return &Engine{Store: st, Pub: pub, Msg: msg, Now: time.Now}
}

// StepEvent is the payload of workflow_step_active.
type StepEvent struct {
	Type       string  `json:"type"`
	WorkflowID string  `json:"workflow_id"`
	StepID     string  `json:"step_id"`
	StepIndex  int     `json:"step_index"`
	Name       string  `json:"name"`
	AssignedTo *string `json:"assigned_to"`
}

// CompletedEvent is the payload of workflow_completed.
type CompletedEvent struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
}

func (e *Engine) publish(ctx context.Context, name, channel string, data any) {
	if e.Pub != nil {
		e.Pub.Publish(ctx, fanout.Event{Name: name, Channel: channel, Data: data}, fanout.Broadcast(""))
	}
}

func (e *Engine) post(ctx context.Context, in models.SendMessage, ref models.WorkflowRef) {
	if e.Msg == nil {
		return
	}
	if in.Type == "" {
		in.Type = models.TypeCoordination
	}
	if b, err := json.Marshal(ref); err == nil {
		in.Metadata = b
	}
	if _, err := e.Msg.Send(ctx, in); err != nil {
		slog.Warn("workflow message not posted", "workflow", ref.WorkflowID, "err", err)
	}
}

// validateSteps rejects empty names and predecessor references that could never
// be satisfied: out of range, self references, and cycles.
func validateSteps(steps []models.StepDef) error {
	if len(steps) == 0 {
		return errs.Invalid("name and steps[] required")
	}
	for i, s := range steps {
		if s.Name == "" {
			return errs.Invalid("step %d: name is required", i)
		}
		if s.DependsOnStep == nil {
			continue
		}
		if d := *s.DependsOnStep; d < 0 || d >= len(steps) || d == i {
			return errs.Invalid("step %d: depends_on_step %d does not name another step", i, d)
		}
	}
	for i := range steps {
		seen := map[int]bool{i: true}
		for cur := steps[i].DependsOnStep; cur != nil; cur = steps[*cur].DependsOnStep {
			if seen[*cur] {
				return errs.Invalid("step %d: dependency cycle", i)
			}
			seen[*cur] = true
		}
	}
	return nil
}

// Create stores a draft workflow and one pending step row per definition.
func (e *Engine) Create(ctx context.Context, in models.CreateWorkflow) (*models.Workflow, error) {
	if in.Name == "" {
		return nil, errs.Invalid("name and steps[] required")
	}
	if err := validateSteps(in.Steps); err != nil {
		return nil, err
	}
	if in.Channel == "" {
		in.Channel = models.DefaultChannel
	}
	if in.CreatedBy == "" {
		in.CreatedBy = models.SystemAgent
	}
	now := e.Now()
	w := store.Workflow{
		ID:        store.NewID(),
		Name:      in.Name,
		Channel:   in.Channel,
		CreatedBy: in.CreatedBy,
		Status:    models.WorkflowDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	steps := make([]store.WorkflowStep, 0, len(in.Steps))
	for i, d := range in.Steps {
		w.Steps = append(w.Steps, store.StepDef{
			Name:                 d.Name,
			AssignedTo:           d.AssignedTo,
			RequiredCapabilities: d.RequiredCapabilities,
			DependsOnStep:        d.DependsOnStep,
		})
		steps = append(steps, store.WorkflowStep{
			ID:                   store.NewID(),
			WorkflowID:           w.ID,
			Index:                i,
			Name:                 d.Name,
			AssignedTo:           d.AssignedTo,
			RequiredCapabilities: d.RequiredCapabilities,
			DependsOnStep:        d.DependsOnStep,
			Status:               models.StepPending,
		})
	}
	if err := e.Store.CreateWorkflow(ctx, w, steps); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	otel.RecordWorkflowTransition(ctx, "create", w.Status)
	out := store.WorkflowModel(w, steps)
	return &out, nil
}

func conflictStatus(w *store.Workflow, msg string) error {
	return errs.Conflict(msg, map[string]any{"status": w.Status})
}

// Start activates a draft workflow and every step with no unmet predecessor.
func (e *Engine) Start(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := e.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := e.Store.TransitionWorkflow(ctx, id, []string{models.WorkflowDraft}, models.WorkflowActive, e.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur, gerr := e.Store.GetWorkflow(ctx, id); gerr == nil {
			w = cur
		}
		return nil, conflictStatus(w, fmt.Sprintf("cannot start workflow in status '%s'", w.Status))
	}
	otel.RecordWorkflowTransition(ctx, "start", models.WorkflowActive)
	w.Status = models.WorkflowActive
	e.post(ctx, models.SendMessage{
		FromAgent: w.CreatedBy,
		Channel:   w.Channel,
		Content:   fmt.Sprintf("Workflow %q started", w.Name),
	}, models.WorkflowRef{WorkflowID: id})

	if err := e.propagate(ctx, w); err != nil {
		return nil, err
	}
	return e.Get(ctx, id)
}

// propagate activates every pending step whose predecessor is completed, then
// completes the workflow if no step is left open.
func (e *Engine) propagate(ctx context.Context, w *store.Workflow) error {
	steps, err := e.Store.ListSteps(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}
	byIndex := make(map[int]*store.WorkflowStep, len(steps))
	for i := range steps {
		byIndex[steps[i].Index] = &steps[i]
	}
	now := e.Now()
	open := 0
	for i := range steps {
		s := &steps[i]
		if s.Status != models.StepCompleted {
			open++
		}
		if s.Status != models.StepPending {
			continue
		}
		if s.DependsOnStep != nil {
			dep, ok := byIndex[*s.DependsOnStep]
			if !ok || dep.Status != models.StepCompleted {
				continue
			}
		}
		activated, err := e.Store.ActivateStep(ctx, s.ID, now)
		if err != nil {
			return fmt.Errorf("activate step %d: %w", s.Index, err)
		}
		if !activated {
			continue
		}
		s.Status = models.StepActive
		otel.RecordWorkflowTransition(ctx, "activate_step", models.StepActive)
		e.publish(ctx, models.EventWorkflowStepActive, w.Channel, StepEvent{
			Type:       models.EventWorkflowStepActive,
			WorkflowID: w.ID,
			StepID:     s.ID,
			StepIndex:  s.Index,
			Name:       s.Name,
			AssignedTo: s.AssignedTo,
		})
		if s.AssignedTo != nil {
			e.post(ctx, models.SendMessage{
				FromAgent: models.SystemAgent,
				ToAgent:   s.AssignedTo,
				Channel:   w.Channel,
				Priority:  models.PriorityHigh,
				Content:   fmt.Sprintf("Step %q of workflow %q is now active", s.Name, w.Name),
			}, models.WorkflowRef{WorkflowID: w.ID, StepID: s.ID})
		}
	}
	if open > 0 {
		return nil
	}

	ok, err := e.Store.TransitionWorkflow(ctx, w.ID, []string{models.WorkflowActive}, models.WorkflowCompleted, now)
	if err != nil || !ok {
		return err
	}
	otel.RecordWorkflowTransition(ctx, "complete", models.WorkflowCompleted)
	w.Status = models.WorkflowCompleted
	e.post(ctx, models.SendMessage{
		FromAgent: models.SystemAgent,
		Channel:   w.Channel,
		Content:   fmt.Sprintf("Workflow %q completed", w.Name),
	}, models.WorkflowRef{WorkflowID: w.ID})
	e.publish(ctx, models.EventWorkflowCompleted, w.Channel, CompletedEvent{
		Type:       models.EventWorkflowCompleted,
		WorkflowID: w.ID,
		Name:       w.Name,
	})
	return nil
}

// CompleteStep records a step's output and advances the workflow. Steps of a
// workflow that is not active cannot be completed.
func (e *Engine) CompleteStep(ctx context.Context, workflowID, stepID string, output *string) (*models.WorkflowStep, error) {
	w, err := e.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s, err := e.Store.GetStep(ctx, workflowID, stepID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WorkflowActive {
		return nil, conflictStatus(w, fmt.Sprintf("workflow is %s", w.Status))
	}
	now := e.Now()
	ok, err := e.Store.CompleteStep(ctx, stepID, output, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Conflict("step already completed", map[string]any{"status": models.StepCompleted})
	}
	otel.RecordWorkflowTransition(ctx, "complete_step", models.StepCompleted)
	s.Status = models.StepCompleted
	s.Output = output
	s.CompletedAt = &now

	// The step stays completed even if propagation fails.
	if err := e.propagate(ctx, w); err != nil {
		slog.Warn("workflow propagation failed", "workflow", workflowID, "step", stepID, "err", err)
	}
	out := store.StepModel(*s)
	return &out, nil
}

// AssignStep changes who is responsible for a step. Status is unchanged.
func (e *Engine) AssignStep(ctx context.Context, workflowID, stepID, agentID string) (*models.WorkflowStep, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent_id required")
	}
	if err := e.Store.AssignStep(ctx, workflowID, stepID, agentID); err != nil {
		return nil, err
	}
	s, err := e.Store.GetStep(ctx, workflowID, stepID)
	if err != nil {
		return nil, err
	}
	out := store.StepModel(*s)
	return &out, nil
}

// Cancel stops a draft or active workflow. Step rows are left as they are.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := e.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := e.Store.TransitionWorkflow(ctx, id,
		[]string{models.WorkflowDraft, models.WorkflowActive}, models.WorkflowCancelled, e.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur, gerr := e.Store.GetWorkflow(ctx, id); gerr == nil {
			w = cur
		}
		return nil, conflictStatus(w, fmt.Sprintf("cannot cancel workflow in status '%s'", w.Status))
	}
	otel.RecordWorkflowTransition(ctx, "cancel", models.WorkflowCancelled)
	return e.Get(ctx, id)
}

// Get returns a workflow with its step rows.
func (e *Engine) Get(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := e.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := e.Store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	out := store.WorkflowModel(*w, steps)
	return &out, nil
}

// List returns up to ListLimit workflows newest first, optionally by status.
func (e *Engine) List(ctx context.Context, status string) ([]models.Workflow, error) {
	switch status {
	case "", models.WorkflowDraft, models.WorkflowActive, models.WorkflowCompleted, models.WorkflowCancelled:
	default:
		return nil, errs.Invalid("unknown status %q", status)
	}
	rows, err := e.Store.ListWorkflows(ctx, status)
	if err != nil {
		return nil, err
	}
	if len(rows) > ListLimit {
		rows = rows[:ListLimit]
	}
	out := make([]models.Workflow, 0, len(rows))
	for _, w := range rows {
		out = append(out, store.WorkflowModel(w, nil))
	}
	return out, nil
}
