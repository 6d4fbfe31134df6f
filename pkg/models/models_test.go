package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeMetadataVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		typ   string
		raw   string
		check func(*Metadata) bool
	}{
		{TypeHandoff, `{"source_agent":"a","target_agent":"b","context":"ctx","artifacts":["x.go"]}`,
			func(m *Metadata) bool { return m.Handoff != nil && m.Handoff.TargetAgent == "b" && len(m.Handoff.Artifacts) == 1 }},
		{TypeHandoff, `{"note":"free-form"}`,
			func(m *Metadata) bool { return m.Handoff == nil && m.Raw["note"] == "free-form" }},
		{TypeTask, `{"task_id":"t1","auto_assigned":true}`,
			func(m *Metadata) bool { return m.Task != nil && m.Task.AutoAssigned }},
		{TypeCoordination, `{"workflow_id":"w1","step_id":"s1"}`,
			func(m *Metadata) bool { return m.Workflow != nil && m.Workflow.StepID == "s1" }},
		{TypeCoordination, `{"barrier_id":"b1","agents":["a","b"]}`,
			func(m *Metadata) bool { return m.Barrier != nil && len(m.Barrier.Agents) == 2 }},
		{TypeDelegation, `{"task_id":"t1","delegation_id":"d1"}`,
			func(m *Metadata) bool { return m.Delegation != nil && m.Delegation.DelegationID == "d1" }},
		{TypeTask, `{"task_id":42}`,
			func(m *Metadata) bool { return m.Task == nil && m.Raw != nil }},
	}
	for _, c := range cases {
		md, err := DecodeMetadata(c.typ, json.RawMessage(c.raw))
		if err != nil {
			t.Fatalf("DecodeMetadata(%s, %s): %v", c.typ, c.raw, err)
		}
		if md == nil || !c.check(md) {
			t.Errorf("DecodeMetadata(%s, %s) = %+v", c.typ, c.raw, md)
		}
	}
}

func TestDecodeMetadataRejectsNonObject(t *testing.T) {
	t.Parallel()
	if _, err := DecodeMetadata(TypeChat, json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for array metadata")
	}
	md, err := DecodeMetadata(TypeChat, nil)
	if err != nil || md != nil {
		t.Fatalf("empty metadata: %v %v", md, err)
	}
}

func TestMessageJSONCarriesTypedMetadata(t *testing.T) {
	t.Parallel()
	in := Message{ID: "m1", FromAgent: "a", Channel: "general", Type: TypeHandoff, Content: "over to you", Priority: PriorityNormal,
		Metadata: &Metadata{Handoff: &HandoffMeta{SourceAgent: "a", TargetAgent: "b", Context: "ctx"}}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Metadata == nil || out.Metadata.Handoff == nil || out.Metadata.Handoff.SourceAgent != "a" {
		t.Fatalf("metadata lost: %s", b)
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()
	if !(PriorityRank(PriorityUrgent) < PriorityRank(PriorityHigh) &&
		PriorityRank(PriorityHigh) < PriorityRank(PriorityNormal) &&
		PriorityRank(PriorityNormal) < PriorityRank(PriorityLow)) {
		t.Fatal("priority ranks out of order")
	}
	if ValidPriority("medium") || !ValidMessageType(TypeDelegation) {
		t.Fatal("validation tables wrong")
	}
}
