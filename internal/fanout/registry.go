// Package fanout is the in-process registry of live agent streams. Publishing
// resolves recipients, filters by channel access and enqueues without blocking;
// each stream drains its own queue in short batches.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

const (
	DefaultWindow   = 25 * time.Millisecond
	DefaultMaxBatch = 64
)

// AccessChecker decides whether agent may see events scoped to channel.
type AccessChecker interface {
	CanAccess(ctx context.Context, channel, agent string) bool
}

// AccessFunc adapts a function to AccessChecker.
type AccessFunc func(ctx context.Context, channel, agent string) bool

func (f AccessFunc) CanAccess(ctx context.Context, channel, agent string) bool {
	return f(ctx, channel, agent)
}

// Event is something to push to live streams. Name is the stream category;
// Channel, when set, subjects the event to access filtering. ID, when set,
// names the record behind the event so a stream can skip one it already sent.
type Event struct {
	ID       string
	Name     string
	Channel  string
	Priority string
	Data     any
}

// Category is the stream category the event goes out under. Urgent messages
// get their own category so clients can alert on them.
func (e Event) Category() string {
	if e.Name == models.EventMessage && e.Priority == models.PriorityUrgent {
		return models.EventUrgent
	}
	return e.Name
}

// Frame is an encoded event as written to a stream. ID is not written.
type Frame struct {
	ID   string
	Name string
	Data json.RawMessage
}

// Target selects recipients: one agent, or every connected agent but Exclude.
type Target struct {
	Agent   string
	Exclude string
}

// To targets the streams of a single agent.
func To(agent string) Target { return Target{Agent: agent} }

// Broadcast targets every connected agent except sender.
func Broadcast(sender string) Target { return Target{Exclude: sender} }

// Registry holds the sinks of every connected agent.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]map[*Sink]struct{}

	access   AccessChecker
	buffer   int
	window   time.Duration
	maxBatch int
}

// Option configures a Registry.
type Option func(*Registry)

// WithAccessChecker sets the channel access hook. Without one every channel is open.
func WithAccessChecker(a AccessChecker) Option { return func(r *Registry) { r.access = a } }

// WithBuffer sets the per-sink queue size.
func WithBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithWindow sets the batching window.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithMaxBatch caps how many frames one batch may carry.
func WithMaxBatch(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBatch = n
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		sinks:    make(map[string]map[*Sink]struct{}),
		buffer:   models.DefaultSinkBuffer,
		window:   DefaultWindow,
		maxBatch: DefaultMaxBatch,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe registers a new sink for agent. An agent may hold several.
func (r *Registry) Subscribe(agent string) *Sink {
	s := &Sink{
		agent:    agent,
		queue:    make(chan Frame, r.buffer),
		done:     make(chan struct{}),
		window:   r.window,
		maxBatch: r.maxBatch,
	}
	r.mu.Lock()
	set := r.sinks[agent]
	if set == nil {
		set = make(map[*Sink]struct{})
		r.sinks[agent] = set
	}
	set[s] = struct{}{}
	r.mu.Unlock()
	otel.AddStreamConnection()
	return s
}

// Unsubscribe removes s and drops the agent entry once it has no sinks left.
// Calling it twice is harmless.
func (r *Registry) Unsubscribe(s *Sink) {
	r.mu.Lock()
	set, ok := r.sinks[s.agent]
	if ok {
		if _, ok = set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(r.sinks, s.agent)
			}
		}
	}
	r.mu.Unlock()
	if ok {
		s.close()
		otel.RemoveStreamConnection()
	}
}

// Publish encodes ev once and enqueues it on every recipient sink. It never
// blocks on a slow reader: a full queue drops the frame. Returns the number of
// sinks the frame was queued on.
func (r *Registry) Publish(ctx context.Context, ev Event, t Target) int {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		slog.Warn("fanout: encode event", "event", ev.Name, "err", err)
		return 0
	}
	frame := Frame{ID: ev.ID, Name: ev.Category(), Data: data}

	type recipient struct {
		agent string
		sinks []*Sink
	}
	var recipients []recipient
	r.mu.RLock()
	if t.Agent != "" {
		if set := r.sinks[t.Agent]; len(set) > 0 {
			recipients = append(recipients, recipient{agent: t.Agent, sinks: keys(set)})
		}
	} else {
		for agent, set := range r.sinks {
			if agent == t.Exclude {
				continue
			}
			recipients = append(recipients, recipient{agent: agent, sinks: keys(set)})
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, rc := range recipients {
		if ev.Channel != "" && r.access != nil && !r.access.CanAccess(ctx, ev.Channel, rc.agent) {
			continue
		}
		for _, s := range rc.sinks {
			if s.offer(frame) {
				n++
				otel.RecordFanoutEvent(ctx, frame.Name)
			} else {
				otel.RecordFanoutDrop(ctx, frame.Name)
			}
		}
	}
	return n
}

// Connections returns the number of live sinks.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.sinks {
		n += len(set)
	}
	return n
}

// Connected reports whether agent has at least one live sink.
func (r *Registry) Connected(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks[agent]) > 0
}

// Agents returns the ids of agents with live sinks.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sinks))
	for a := range r.sinks {
		out = append(out, a)
	}
	return out
}

func keys(set map[*Sink]struct{}) []*Sink {
	out := make([]*Sink, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
