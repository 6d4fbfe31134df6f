package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/pkg/models"
	"github.com/gorilla/websocket"
)

// Connected is the system frame that follows the backlog on every new stream.
type Connected struct {
	Type      string `json:"type"`
	Agent     string `json:"agent"`
	Unread    int    `json:"unread"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat is the keep-alive frame.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// liveStream is a registered sink plus the frames that open the stream.
type liveStream struct {
	sink    *fanout.Sink
	initial []fanout.Frame
	// sent holds the ids of backlog messages already in initial.
	sent map[string]struct{}
}

// fresh drops frames for records the backlog already delivered. A record can
// only be duplicated once, so its id is forgotten after the first skip.
func (s *liveStream) fresh(batch []fanout.Frame) []fanout.Frame {
	if len(s.sent) == 0 {
		return batch
	}
	out := batch[:0]
	for _, f := range batch {
		if _, dup := s.sent[f.ID]; f.ID != "" && dup {
			delete(s.sent, f.ID)
			continue
		}
		out = append(out, f)
	}
	return out
}

// openStream registers a sink for agent and returns it with the frames that
// open every stream: the unread backlog, highest priority first, then the
// connected acknowledgment. The sink is registered before the backlog is read
// so nothing published in between is lost.
func (a *App) openStream(ctx context.Context, agent string) (*liveStream, error) {
	a.touch(ctx, agent)
	sink := a.Registry.Subscribe(agent)
	backlog, err := a.Messaging.Backlog(ctx, agent)
	if err != nil {
		a.Registry.Unsubscribe(sink)
		return nil, err
	}
	ls := &liveStream{
		sink:    sink,
		initial: make([]fanout.Frame, 0, len(backlog)+1),
		sent:    make(map[string]struct{}, len(backlog)),
	}
	for _, m := range backlog {
		name := fanout.Event{Name: models.EventMessage, Priority: m.Priority}.Category()
		f, err := fanout.NewFrame(name, m)
		if err != nil {
			continue
		}
		f.ID = m.ID
		ls.initial = append(ls.initial, f)
		ls.sent[m.ID] = struct{}{}
	}
	ack, err := fanout.NewFrame(models.EventSystem, Connected{
		Type:      "connected",
		Agent:     agent,
		Unread:    len(backlog),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		a.Registry.Unsubscribe(sink)
		return nil, err
	}
	ls.initial = append(ls.initial, ack)
	return ls, nil
}

// touch refreshes the agent's last_seen. Unknown agents are ignored.
func (a *App) touch(ctx context.Context, agent string) {
	if _, err := a.Store.TouchAgent(ctx, agent, time.Now()); err != nil {
		slog.Warn("stream touch failed", "agent", agent, "err", err)
	}
}

func heartbeatFrame() fanout.Frame {
	f, _ := fanout.NewFrame(models.EventHeartbeat, Heartbeat{Timestamp: time.Now().UnixMilli()})
	return f
}

// --- SSE ---

func writeSSE(w http.ResponseWriter, f fanout.Frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Name, f.Data)
	return err
}

func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == "" {
		writeJSONError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ls, err := a.openStream(ctx, agent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer a.Registry.Unsubscribe(ls.sink)

	a.pumpSSE(ctx, w, flusher, ls, agent)
}

// pumpSSE writes the opening frames, then batches from the sink with a
// heartbeat on every keep-alive tick, until the client goes away.
func (a *App) pumpSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ls *liveStream, agent string) {
	sink := ls.sink
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, f := range ls.initial {
		if writeSSE(w, f) != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(a.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.Done():
			return
		case <-keepalive.C:
			if writeSSE(w, heartbeatFrame()) != nil {
				return
			}
			flusher.Flush()
			a.touch(ctx, agent)
		case f := <-sink.Frames():
			batch := ls.fresh(sink.Collect(ctx, f))
			if len(batch) == 0 {
				continue
			}
			for _, f := range batch {
				if writeSSE(w, f) != nil {
					return
				}
			}
			flusher.Flush()
			otel.RecordStreamBatch(ctx, len(batch))
		}
	}
}

// --- WebSocket ---

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsMaxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSFrame is one stream frame as sent over /ws.
type WSFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agent, err := a.actor(r, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == "" {
		writeJSONError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "agent", agent, "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The request context is not cancelled by a hijacked connection going
	// away; the read pump cancels this one instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ls, err := a.openStream(ctx, agent)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer a.Registry.Unsubscribe(ls.sink)

	go wsReadPump(conn, cancel)
	if err := a.wsWritePump(ctx, conn, ls, agent); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("websocket closed", "agent", agent, "err", err)
	}
}

// wsReadPump discards client messages and cancels the stream when the peer
// goes away or stops answering pings.
func wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeWS(conn *websocket.Conn, frames []fanout.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	for _, f := range frames {
		if err := conn.WriteJSON(WSFrame{Event: f.Name, Data: f.Data}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) wsWritePump(ctx context.Context, conn *websocket.Conn, ls *liveStream, agent string) error {
	sink := ls.sink
	if err := writeWS(conn, ls.initial); err != nil {
		return err
	}
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	keepalive := time.NewTicker(a.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return ctx.Err()
		case <-sink.Done():
			return fanout.ErrClosed
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		case <-keepalive.C:
			if err := writeWS(conn, []fanout.Frame{heartbeatFrame()}); err != nil {
				return err
			}
			a.touch(ctx, agent)
		case f := <-sink.Frames():
			batch := ls.fresh(sink.Collect(ctx, f))
			if len(batch) == 0 {
				continue
			}
			if err := writeWS(conn, batch); err != nil {
				return err
			}
			otel.RecordStreamBatch(ctx, len(batch))
		}
	}
}
