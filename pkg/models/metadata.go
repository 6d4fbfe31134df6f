package models

import (
	"encoding/json"
	"errors"
)

// Metadata is the structured payload attached to a message. Exactly one variant is
// set; which one follows from the message type. Raw holds payloads with no known shape.
type Metadata struct {
	Handoff    *HandoffMeta
	Task       *TaskRef
	Workflow   *WorkflowRef
	Barrier    *BarrierRef
	Delegation *DelegationRef
	Review     *ReviewMeta
	Raw        map[string]any
}

// HandoffMeta transfers work context from one agent to another.
type HandoffMeta struct {
	SourceAgent string   `json:"source_agent"`
	TargetAgent string   `json:"target_agent"`
	TaskID      *string  `json:"task_id,omitempty"`
	Context     string   `json:"context"`
	Artifacts   []string `json:"artifacts,omitempty"`
}

// Validate checks the required handoff fields.
func (h *HandoffMeta) Validate() error {
	if h.SourceAgent == "" {
		return errors.New("handoff metadata: source_agent is required")
	}
	if h.TargetAgent == "" {
		return errors.New("handoff metadata: target_agent is required")
	}
	if h.Context == "" {
		return errors.New("handoff metadata: context is required")
	}
	return nil
}

// TaskRef links a message to a task.
type TaskRef struct {
	TaskID       string `json:"task_id"`
	AutoAssigned bool   `json:"auto_assigned,omitempty"`
	UnblockedBy  string `json:"unblocked_by,omitempty"`
}

// WorkflowRef links a message to a workflow and optionally one step.
type WorkflowRef struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id,omitempty"`
}

// BarrierRef links a message to a barrier.
type BarrierRef struct {
	BarrierID string   `json:"barrier_id"`
	Agents    []string `json:"agents,omitempty"`
}

// DelegationRef links a message to a delegation.
type DelegationRef struct {
	TaskID       string `json:"task_id"`
	DelegationID string `json:"delegation_id"`
	SubAgentID   string `json:"sub_agent_id,omitempty"`
}

// ReviewMeta describes a code review request or verdict.
type ReviewMeta struct {
	Ref      string   `json:"ref,omitempty"`
	Files    []string `json:"files,omitempty"`
	Verdict  string   `json:"verdict,omitempty"`
	Comments []string `json:"comments,omitempty"`
}

// MarshalJSON writes the set variant as a flat object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	switch {
	case m.Handoff != nil:
		return json.Marshal(m.Handoff)
	case m.Task != nil:
		return json.Marshal(m.Task)
	case m.Workflow != nil:
		return json.Marshal(m.Workflow)
	case m.Barrier != nil:
		return json.Marshal(m.Barrier)
	case m.Delegation != nil:
		return json.Marshal(m.Delegation)
	case m.Review != nil:
		return json.Marshal(m.Review)
	case m.Raw != nil:
		return json.Marshal(m.Raw)
	default:
		return []byte("null"), nil
	}
}

// DecodeMetadata decodes raw into the variant for msgType. Payloads that do not
// carry the variant's key fields fall back to Raw. A nil result means no metadata.
func DecodeMetadata(msgType string, raw json.RawMessage) (*Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var keys map[string]any
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, errors.New("metadata must be a JSON object")
	}
	has := func(k string) bool { _, ok := keys[k]; return ok }

	var (
		md  Metadata
		err error
	)
	switch {
	case msgType == TypeHandoff && has("source_agent") && has("target_agent"):
		md.Handoff = new(HandoffMeta)
		err = json.Unmarshal(raw, md.Handoff)
	case msgType == TypeDelegation && has("delegation_id"):
		md.Delegation = new(DelegationRef)
		err = json.Unmarshal(raw, md.Delegation)
	case msgType == TypeCodeReview:
		md.Review = new(ReviewMeta)
		err = json.Unmarshal(raw, md.Review)
	case has("workflow_id"):
		md.Workflow = new(WorkflowRef)
		err = json.Unmarshal(raw, md.Workflow)
	case has("barrier_id"):
		md.Barrier = new(BarrierRef)
		err = json.Unmarshal(raw, md.Barrier)
	case has("task_id") && (msgType == TypeTask || msgType == TypeCoordination):
		md.Task = new(TaskRef)
		err = json.Unmarshal(raw, md.Task)
	default:
		md.Raw = keys
	}
	if err != nil {
		// Shape mismatch (e.g. task_id is a number): keep the payload opaque.
		return &Metadata{Raw: keys}, nil
	}
	return &md, nil
}
