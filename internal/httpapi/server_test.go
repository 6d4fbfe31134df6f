package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

func newTestServer(t *testing.T, cfg *config.File) (*App, *httptest.Server) {
	t.Helper()
	app, err := NewApp(ServerOptions{Home: t.TempDir(), Addr: "127.0.0.1:0", Config: cfg})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Store.Close()
	})
	return app, ts
}

// call sends body (if any) as JSON with the given header pairs and returns the
// status and raw response body.
func call(t *testing.T, method, url, body string, headers ...string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b
}

func mustStatus(t *testing.T, want int, method, url, body string, headers ...string) []byte {
	t.Helper()
	code, b := call(t, method, url, body, headers...)
	if code != want {
		t.Fatalf("%s %s: status=%d want %d body=%s", method, url, code, want, b)
	}
	return b
}

type sseEvent struct {
	Name string
	Data string
}

func openStream(t *testing.T, ctx context.Context, url string) *bufio.Scanner {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	return bufio.NewScanner(resp.Body)
}

func nextEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Name != "":
			return ev
		}
	}
	t.Fatalf("stream ended before next event: %v", sc.Err())
	return ev
}

func TestServerSmoke(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	// health
	var h models.Health
	if err := json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/health", ""), &h); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if h.Status != "ok" || h.ActiveStreams != 0 {
		t.Fatalf("health = %+v", h)
	}

	mustStatus(t, 200, "POST", ts.URL+"/agents/register", `{"id":"alice","name":"Alice"}`)
	mustStatus(t, 200, "POST", ts.URL+"/agents/register", `{"id":"bob","name":"Bob"}`)
	var agents []models.Agent
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/agents", ""), &agents)
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}

	// Two direct messages queued while bob is offline.
	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","to_agent":"bob","content":"fyi"}`)
	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","to_agent":"bob","content":"fire","priority":"urgent"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, ts.URL+"/stream?agent=bob")

	// Backlog first, urgent ahead of normal, then the connected acknowledgment.
	if ev := nextEvent(t, sc); ev.Name != models.EventUrgent || !strings.Contains(ev.Data, `"fire"`) {
		t.Fatalf("first event = %+v", ev)
	}
	if ev := nextEvent(t, sc); ev.Name != models.EventMessage || !strings.Contains(ev.Data, `"fyi"`) {
		t.Fatalf("second event = %+v", ev)
	}
	ev := nextEvent(t, sc)
	var conn Connected
	if err := json.Unmarshal([]byte(ev.Data), &conn); err != nil || ev.Name != models.EventSystem {
		t.Fatalf("connected event = %+v (%v)", ev, err)
	}
	if conn.Type != "connected" || conn.Agent != "bob" || conn.Unread != 2 {
		t.Fatalf("connected = %+v", conn)
	}

	// Live delivery of a channel broadcast.
	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","content":"hello all"}`)
	if ev := nextEvent(t, sc); ev.Name != models.EventMessage || !strings.Contains(ev.Data, "hello all") {
		t.Fatalf("live event = %+v", ev)
	}

	var msgs []models.Message
	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/messages?channel=general", ""), &msgs)
	if len(msgs) != 3 {
		t.Fatalf("general messages = %d, want 3", len(msgs))
	}

	_ = json.Unmarshal(mustStatus(t, 200, "GET", ts.URL+"/health", ""), &h)
	if h.ActiveStreams != 1 {
		t.Fatalf("active_streams = %d, want 1", h.ActiveStreams)
	}
}

func TestPrivateChannelIsolation(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var created struct {
		Created    bool   `json:"created"`
		InviteCode string `json:"invite_code"`
	}
	b := mustStatus(t, 201, "POST", ts.URL+"/channels", `{"id":"ops","name":"Ops","private":true,"created_by":"alice"}`)
	if err := json.Unmarshal(b, &created); err != nil || !created.Created || created.InviteCode == "" {
		t.Fatalf("create = %s (%v)", b, err)
	}
	// Creating again is idempotent.
	mustStatus(t, 200, "POST", ts.URL+"/channels", `{"id":"ops","name":"Ops","private":true,"created_by":"alice"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, ts.URL+"/stream?agent=carol")
	if ev := nextEvent(t, sc); ev.Name != models.EventSystem {
		t.Fatalf("first event = %+v", ev)
	}

	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","channel":"ops","content":"secret"}`)
	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","content":"public"}`)
	if ev := nextEvent(t, sc); !strings.Contains(ev.Data, "public") {
		t.Fatalf("non-member saw %+v", ev)
	}

	mustStatus(t, 403, "GET", ts.URL+"/messages?channel=ops&agent=carol", "")
	mustStatus(t, 403, "POST", ts.URL+"/messages", `{"from_agent":"carol","channel":"ops","content":"let me in"}`)
	mustStatus(t, 403, "POST", ts.URL+"/channels/ops/join", `{"agent":"carol"}`)
	mustStatus(t, 200, "POST", ts.URL+"/channels/ops/join", `{"agent":"carol","invite_code":"`+created.InviteCode+`"}`)
	mustStatus(t, 200, "GET", ts.URL+"/messages?channel=ops&agent=carol", "")
}

func TestPrivateChannelTaskEvents(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)
	mustStatus(t, 201, "POST", ts.URL+"/channels", `{"id":"ops","name":"Ops","private":true,"created_by":"alice"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outsider := openStream(t, ctx, ts.URL+"/stream?agent=carol")
	member := openStream(t, ctx, ts.URL+"/stream?agent=alice")
	nextEvent(t, outsider)
	nextEvent(t, member)

	mustStatus(t, 201, "POST", ts.URL+"/tasks", `{"title":"secret-migration","created_by":"alice","channel":"ops"}`)
	if ev := nextEvent(t, member); ev.Name != models.EventTaskCreated || !strings.Contains(ev.Data, "secret-migration") {
		t.Fatalf("member event = %+v", ev)
	}

	mustStatus(t, 201, "POST", ts.URL+"/messages", `{"from_agent":"alice","content":"public"}`)
	if ev := nextEvent(t, outsider); ev.Name != models.EventMessage || !strings.Contains(ev.Data, "public") {
		t.Fatalf("non-member saw %+v", ev)
	}
}

func TestStreamKeepaliveTouchesAgent(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Stream.Keepalive = 50 * time.Millisecond
	app, ts := newTestServer(t, &cfg)
	mustStatus(t, 200, "POST", ts.URL+"/agents/register", `{"id":"alice","name":"Alice"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, ts.URL+"/stream?agent=alice")
	if ev := nextEvent(t, sc); ev.Name != models.EventSystem {
		t.Fatalf("first event = %+v", ev)
	}

	stale := time.Now().Add(-time.Hour)
	if _, err := app.Store.TouchAgent(ctx, "alice", stale); err != nil {
		t.Fatalf("TouchAgent: %v", err)
	}
	if ev := nextEvent(t, sc); ev.Name != models.EventHeartbeat {
		t.Fatalf("expected heartbeat, got %+v", ev)
	}

	// Keep draining heartbeats while waiting for the touch that follows one.
	go func() {
		for sc.Scan() {
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		a, err := app.Store.GetAgent(ctx, "alice")
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		if a.LastSeenAt != nil && a.LastSeenAt.After(stale.Add(time.Minute)) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("last_seen_at = %v, not refreshed by keep-alive", a.LastSeenAt)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
