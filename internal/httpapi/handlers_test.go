package httpapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

func decodeMap(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return m
}

func TestTaskEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	mustStatus(t, 400, "POST", ts.URL+"/tasks", `{"created_by":"lead"}`)
	mustStatus(t, 400, "POST", ts.URL+"/tasks", `{not json`)

	var task models.Task
	_ = json.Unmarshal(mustStatus(t, 201, "POST", ts.URL+"/tasks", `{"title":"write docs","created_by":"lead"}`), &task)
	if task.ID == "" || task.Status != models.TaskPending {
		t.Fatalf("task = %+v", task)
	}

	mustStatus(t, 200, "POST", ts.URL+"/tasks/"+task.ID+"/claim", `{"agent":"a"}`)

	// A second claim is a conflict that names the current state.
	body := decodeMap(t, mustStatus(t, 409, "POST", ts.URL+"/tasks/"+task.ID+"/claim", `{"agent":"b"}`))
	if body["status"] != models.TaskInProgress || body["assigned_to"] != "a" || body["error"] == "" {
		t.Fatalf("conflict body = %v", body)
	}

	mustStatus(t, 404, "GET", ts.URL+"/tasks/missing", "")
	mustStatus(t, 404, "POST", ts.URL+"/tasks/missing/claim", `{"agent":"a"}`)

	var mine []models.Task
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/tasks/mine?agent=a", ""), &mine)
	if len(mine) != 1 {
		t.Fatalf("mine = %d", len(mine))
	}

	mustStatus(t, 200, "POST", ts.URL+"/tasks/"+task.ID+"/complete", `{"agent":"a","output":"done"}`)
	mustStatus(t, 409, "POST", ts.URL+"/tasks/"+task.ID+"/complete", `{"agent":"a"}`)

	var done []models.Task
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/tasks?status=done", ""), &done)
	if len(done) != 1 || done[0].CompletedAt == nil {
		t.Fatalf("done tasks = %+v", done)
	}
}

func TestTaskBatchEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var created []models.Task
	_ = json.Unmarshal(mustStatus(t, 201, "POST", ts.URL+"/tasks/batch",
		`{"tasks":[{"title":"one","created_by":"lead"},{"title":"two","created_by":"lead"}]}`), &created)
	if len(created) != 2 {
		t.Fatalf("created = %d", len(created))
	}

	var res struct {
		Results []batchResult `json:"results"`
	}
	b := mustStatus(t, 200, "PATCH", ts.URL+"/tasks/batch",
		`{"updates":[{"id":"`+created[0].ID+`","priority":"high"},{"id":"nope","priority":"low"}]}`)
	if err := json.Unmarshal(b, &res); err != nil || len(res.Results) != 2 {
		t.Fatalf("batch = %s (%v)", b, err)
	}
	if res.Results[0].Task == nil || res.Results[0].Task.Priority != models.PriorityHigh {
		t.Fatalf("first result = %+v", res.Results[0])
	}
	if res.Results[1].Error == "" {
		t.Fatalf("unknown id should fail: %+v", res.Results[1])
	}
}

func TestWorkflowEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var wf models.Workflow
	_ = json.Unmarshal(mustStatus(t, 201, "POST", ts.URL+"/workflows",
		`{"name":"release","created_by":"lead","steps":[{"name":"build"},{"name":"ship","depends_on_step":0}]}`), &wf)
	if wf.Status != models.WorkflowDraft || len(wf.StepRows) != 2 {
		t.Fatalf("workflow = %+v", wf)
	}
	mustStatus(t, 400, "POST", ts.URL+"/workflows", `{"name":"loop","steps":[{"name":"a","depends_on_step":0}]}`)

	mustStatus(t, 200, "POST", ts.URL+"/workflows/"+wf.ID+"/start", "")
	body := decodeMap(t, mustStatus(t, 409, "POST", ts.URL+"/workflows/"+wf.ID+"/start", ""))
	if body["status"] != models.WorkflowActive {
		t.Fatalf("conflict body = %v", body)
	}

	var active []models.Workflow
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/workflows/active", ""), &active)
	if len(active) != 1 {
		t.Fatalf("active = %d", len(active))
	}

	mustStatus(t, 200, "POST", ts.URL+"/workflows/"+wf.ID+"/steps/"+wf.StepRows[0].ID+"/complete", `{"output":"ok"}`)
	mustStatus(t, 200, "POST", ts.URL+"/workflows/"+wf.ID+"/steps/"+wf.StepRows[1].ID+"/complete", "")

	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/workflows/"+wf.ID, ""), &wf)
	if wf.Status != models.WorkflowCompleted {
		t.Fatalf("status = %s", wf.Status)
	}
	mustStatus(t, 409, "DELETE", ts.URL+"/workflows/"+wf.ID, "")
	mustStatus(t, 404, "GET", ts.URL+"/workflows/missing", "")
}

func TestSyncEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var b models.Barrier
	_ = json.Unmarshal(mustStatus(t, 201, "POST", ts.URL+"/sync/barrier", `{"agents":["a","b"]}`), &b)
	mustStatus(t, 400, "POST", ts.URL+"/sync/barrier", `{"agents":["a","a"]}`)

	var sig models.BarrierSignal
	_ = json.Unmarshal(mustStatus(t, 200, "POST", ts.URL+"/sync/barrier/"+b.ID+"/ready", `{"agent":"a"}`), &sig)
	if sig.Status != models.BarrierWaiting || len(sig.Remaining) != 1 {
		t.Fatalf("first signal = %+v", sig)
	}
	_ = json.Unmarshal(mustStatus(t, 200, "POST", ts.URL+"/sync/barrier/"+b.ID+"/ready", `{"agent":"b"}`), &sig)
	if sig.Status != models.BarrierCleared {
		t.Fatalf("second signal = %+v", sig)
	}
	mustStatus(t, 409, "POST", ts.URL+"/sync/barrier/"+b.ID+"/ready", `{"agent":"a"}`)
	mustStatus(t, 404, "GET", ts.URL+"/sync/barrier/missing", "")

	// Resource names may contain slashes.
	mustStatus(t, 201, "POST", ts.URL+"/sync/lock", `{"resource":"src/main.go","agent":"a","ttl_seconds":60}`)
	body := decodeMap(t, mustStatus(t, 409, "POST", ts.URL+"/sync/lock", `{"resource":"src/main.go","agent":"b"}`))
	if body["locked_by"] != "a" || body["expires_at"] == nil {
		t.Fatalf("lock conflict body = %v", body)
	}
	mustStatus(t, 409, "DELETE", ts.URL+"/sync/lock/src/main.go?agent=b", "")
	mustStatus(t, 200, "DELETE", ts.URL+"/sync/lock/src/main.go?agent=a", "")
	mustStatus(t, 404, "DELETE", ts.URL+"/sync/lock/src/main.go?agent=a", "")

	var locks []models.Lock
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/sync/locks", ""), &locks)
	if len(locks) != 0 {
		t.Fatalf("locks = %+v", locks)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	mustStatus(t, 400, "PATCH", ts.URL+"/presence", `{"agent":"a","status":"sleeping"}`)
	var p models.Presence
	_ = json.Unmarshal(mustStatus(t, 200, "PATCH", ts.URL+"/presence?agent=a", `{"status":"busy","status_text":"reviewing"}`), &p)
	if p.AgentID != "a" || p.Status != models.PresenceBusy {
		t.Fatalf("presence = %+v", p)
	}
	mustStatus(t, 201, "POST", ts.URL+"/presence/activity", `{"agent":"a","activity":"opened PR"}`)

	var acts []models.Activity
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/presence/activity/a", ""), &acts)
	if len(acts) != 1 || acts[0].Activity != "opened PR" {
		t.Fatalf("activity = %+v", acts)
	}
	mustStatus(t, 200, "GET", ts.URL+"/presence/a", "")
	mustStatus(t, 200, "GET", ts.URL+"/presence/who-is-available", "")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.APIKey = "secret"
	_, ts := newTestServer(t, &cfg)

	mustStatus(t, 200, "GET", ts.URL+"/health", "")
	mustStatus(t, 401, "GET", ts.URL+"/agents", "")
	mustStatus(t, 401, "GET", ts.URL+"/agents", "", "X-API-Key", "wrong")
	mustStatus(t, 200, "GET", ts.URL+"/agents", "", "X-API-Key", "secret")
	mustStatus(t, 200, "GET", ts.URL+"/agents?api_key=secret", "")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.RateLimit = 2
	_, ts := newTestServer(t, &cfg)

	mustStatus(t, 200, "GET", ts.URL+"/agents", "", "X-Agent-Id", "a")
	mustStatus(t, 200, "GET", ts.URL+"/agents", "", "X-Agent-Id", "a")
	body := decodeMap(t, mustStatus(t, 429, "GET", ts.URL+"/agents", "", "X-Agent-Id", "a"))
	if !strings.Contains(body["error"].(string), "rate limit") {
		t.Fatalf("body = %v", body)
	}
	// Buckets are per caller; health is never limited.
	mustStatus(t, 200, "GET", ts.URL+"/agents", "", "X-Agent-Id", "b")
	mustStatus(t, 200, "GET", ts.URL+"/health", "")
}

func TestBearerIdentity(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.JWTSecret = "s3cret"
	app, ts := newTestServer(t, &cfg)

	tok, err := app.Issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	auth := "Bearer " + tok

	var m models.Message
	_ = json.Unmarshal(mustStatus(t, 201, "POST", ts.URL+"/messages", `{"content":"hi"}`, "Authorization", auth), &m)
	if m.FromAgent != "alice" {
		t.Fatalf("from_agent = %q, want alice", m.FromAgent)
	}
	mustStatus(t, 403, "POST", ts.URL+"/messages", `{"from_agent":"mallory","content":"hi"}`, "Authorization", auth)
	mustStatus(t, 401, "GET", ts.URL+"/agents", "", "Authorization", "Bearer junk")

	// With a secret configured the plain header is not trusted.
	mustStatus(t, 400, "POST", ts.URL+"/messages", `{"content":"hi"}`, "X-Agent-Id", "alice")
}

func TestMetricsFallback(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	mustStatus(t, 201, "POST", ts.URL+"/tasks", `{"title":"t","created_by":"lead"}`)
	b := mustStatus(t, 200, "GET", ts.URL+"/metrics", "")
	if !strings.Contains(string(b), `agentcomms_tasks_total{status="pending"} 1`) {
		t.Fatalf("metrics = %s", b)
	}
}
