package httpapi

import (
	"context"
	"testing"

	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

func TestOpenStreamSkipsBacklogDuplicates(t *testing.T) {
	t.Parallel()
	app, ts := newTestServer(t, nil)
	body := mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","to_agent":"bob","content":"queued"}`)
	id := decodeMap(t, body)["id"].(string)

	ctx := context.Background()
	ls, err := app.openStream(ctx, "bob")
	if err != nil {
		t.Fatalf("openStream: %v", err)
	}
	defer app.Registry.Unsubscribe(ls.sink)
	if len(ls.initial) != 2 || ls.initial[0].ID != id {
		t.Fatalf("initial frames = %+v", ls.initial)
	}

	// The same message published after the sink registered, as happens when it
	// lands between Subscribe and the backlog read.
	app.Registry.Publish(ctx, fanout.Event{ID: id, Name: models.EventMessage, Data: "queued"}, fanout.To("bob"))
	app.Registry.Publish(ctx, fanout.Event{ID: "later", Name: models.EventMessage, Data: "later"}, fanout.To("bob"))

	batch, err := ls.sink.NextBatch(ctx)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	got := ls.fresh(batch)
	if len(got) != 1 || got[0].ID != "later" {
		t.Fatalf("fresh frames = %+v", got)
	}

	// A second copy is not a gap duplicate and goes through.
	if got := ls.fresh([]fanout.Frame{{ID: id, Name: models.EventMessage}}); len(got) != 1 {
		t.Fatalf("second pass = %+v", got)
	}
}
