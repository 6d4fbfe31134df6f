// Package presence tracks what agents say they are doing and derives the
// status shown to others. Staleness is computed at read time; nothing is
// written back.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/pkg/models"
)

const (
	DefaultShort = 60 * time.Second
	DefaultLong  = 5 * time.Minute
)

// Publisher pushes events to live streams.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event, t fanout.Target) int
}

// Tracker reads and writes presence. Short is the window in which an agent's
// last_seen counts as online on the roster; Long is how long a stored online
// status is trusted before it is shown as away.
type Tracker struct {
	Store store.Store
	Pub   Publisher
	Short time.Duration
	Long  time.Duration
	Now   func() time.Time
}

func New(st store.Store, pub Publisher) *Tracker {
	return &Tracker{Store: st, Pub: pub, Short: DefaultShort, Long: DefaultLong, Now: time.Now}
}

// Update is the event payload broadcast on every Set.
type Update struct {
	Type     string          `json:"type"`
	Agent    string          `json:"agent"`
	Presence models.Presence `json:"presence"`
}

// Detail is a single agent's presence with its latest activity.
type Detail struct {
	Presence       models.Presence   `json:"presence"`
	RecentActivity []models.Activity `json:"recent_activity"`
}

// Effective returns the status to display for p at now. A stored online turns
// away only after the long threshold; the short one only drives Online.
func (t *Tracker) Effective(p store.Presence, now time.Time) string {
	if p.Status == models.PresenceOnline && now.Sub(p.UpdatedAt) > t.Long {
		return models.PresenceAway
	}
	return p.Status
}

// Online reports whether lastSeen falls within the short threshold.
func (t *Tracker) Online(lastSeen *time.Time, now time.Time) bool {
	return lastSeen != nil && now.Sub(*lastSeen) < t.Short
}

func (t *Tracker) model(p store.Presence, now time.Time) models.Presence {
	return models.Presence{
		AgentID:         p.AgentID,
		Status:          p.Status,
		EffectiveStatus: t.Effective(p, now),
		StatusText:      p.StatusText,
		CurrentTask:     p.CurrentTask,
		CurrentChannel:  p.CurrentChannel,
		Mood:            p.Mood,
		UpdatedAt:       p.UpdatedAt.UnixMilli(),
	}
}

// Set writes the non-nil fields of u, stamps updated_at and broadcasts the
// new state to every live stream.
func (t *Tracker) Set(ctx context.Context, agentID string, u models.UpdatePresence) (*models.Presence, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent id is required")
	}
	if u.Status != nil && !models.ValidPresenceStatus(*u.Status) {
		return nil, errs.Invalid("invalid status %q: must be one of online, busy, away, dnd, offline", *u.Status)
	}
	now := t.Now()
	patch := store.PresencePatch{
		Status:         u.Status,
		StatusText:     u.StatusText,
		CurrentTask:    u.CurrentTask,
		CurrentChannel: u.CurrentChannel,
		Mood:           u.Mood,
	}
	if err := t.Store.UpsertPresence(ctx, agentID, patch, now); err != nil {
		return nil, err
	}
	p, err := t.Store.GetPresence(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := t.model(*p, now)
	if t.Pub != nil {
		t.Pub.Publish(ctx, fanout.Event{
			Name: models.EventPresence,
			Data: Update{Type: "presence_update", Agent: agentID, Presence: out},
		}, fanout.Broadcast(""))
	}
	return &out, nil
}

// Touch marks the agent online. Failures are logged; callers never fail on them.
func (t *Tracker) Touch(ctx context.Context, agentID string) {
	if agentID == "" {
		return
	}
	online := models.PresenceOnline
	if err := t.Store.UpsertPresence(ctx, agentID, store.PresencePatch{Status: &online}, t.Now()); err != nil {
		slog.Warn("presence touch failed", "agent", agentID, "err", err)
	}
}

// Get returns one agent's presence and its ten most recent activities.
func (t *Tracker) Get(ctx context.Context, agentID string) (*Detail, error) {
	p, err := t.Store.GetPresence(ctx, agentID)
	if err != nil {
		return nil, err
	}
	acts, err := t.Store.ListActivity(ctx, agentID, 10)
	if err != nil {
		return nil, err
	}
	d := &Detail{Presence: t.model(*p, t.Now()), RecentActivity: make([]models.Activity, 0, len(acts))}
	for _, a := range acts {
		d.RecentActivity = append(d.RecentActivity, store.ActivityModel(a))
	}
	return d, nil
}

// List returns every agent's presence, most recently updated first.
func (t *Tracker) List(ctx context.Context) ([]models.Presence, error) {
	rows, err := t.Store.ListPresence(ctx)
	if err != nil {
		return nil, err
	}
	now := t.Now()
	out := make([]models.Presence, 0, len(rows))
	for _, p := range rows {
		out = append(out, t.model(p, now))
	}
	return out, nil
}

// Available returns agents whose stored status is online and fresh, fewest
// active tasks first.
func (t *Tracker) Available(ctx context.Context) ([]models.Presence, error) {
	rows, err := t.Store.ListPresence(ctx)
	if err != nil {
		return nil, err
	}
	now := t.Now()
	out := []models.Presence{}
	for _, p := range rows {
		if p.Status != models.PresenceOnline || now.Sub(p.UpdatedAt) > t.Long {
			continue
		}
		n, err := t.Store.CountActiveTasks(ctx, p.AgentID)
		if err != nil {
			return nil, err
		}
		m := t.model(p, now)
		m.ActiveTasks = &n
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].ActiveTasks < *out[j].ActiveTasks })
	return out, nil
}

// LogActivity appends to the agent's activity log and marks it online.
func (t *Tracker) LogActivity(ctx context.Context, agentID, activity string, details *string) (*models.Activity, error) {
	if agentID == "" {
		return nil, errs.Invalid("agent id is required")
	}
	if activity == "" {
		return nil, errs.Invalid("activity is required")
	}
	a := store.Activity{ID: store.NewID(), AgentID: agentID, Activity: activity, Details: details, At: t.Now()}
	if err := t.Store.InsertActivity(ctx, a); err != nil {
		return nil, err
	}
	t.Touch(ctx, agentID)
	m := store.ActivityModel(a)
	return &m, nil
}

// Activity returns the agent's log, newest first. limit defaults to 20 and is capped at 100.
func (t *Tracker) Activity(ctx context.Context, agentID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = models.DefaultActivityLimit
	}
	if limit > models.MaxActivityLimit {
		limit = models.MaxActivityLimit
	}
	rows, err := t.Store.ListActivity(ctx, agentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Activity, 0, len(rows))
	for _, a := range rows {
		out = append(out, store.ActivityModel(a))
	}
	return out, nil
}
