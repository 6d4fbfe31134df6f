package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by NextBatch after the sink was unsubscribed.
var ErrClosed = errors.New("fanout: sink closed")

// NewFrame encodes v under the given stream category.
func NewFrame(name string, v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Name: name, Data: b}, nil
}

// Sink is one live stream's queue. The queue is never closed; Done is closed
// on Unsubscribe so readers and late publishers never race on a closed channel.
type Sink struct {
	agent    string
	queue    chan Frame
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
	window   time.Duration
	maxBatch int
}

// Agent returns the agent id the sink is registered under.
func (s *Sink) Agent() string { return s.agent }

// Frames returns the receive side of the queue.
func (s *Sink) Frames() <-chan Frame { return s.queue }

// Done is closed once the sink has been unsubscribed.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Dropped returns how many frames were discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Send enqueues f directly, bypassing recipient resolution. Used for the
// per-connection backlog and acknowledgment. Reports false if the queue is full.
func (s *Sink) Send(f Frame) bool { return s.offer(f) }

func (s *Sink) offer(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- f:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Sink) close() { s.once.Do(func() { close(s.done) }) }

// Collect gathers more frames after first for at most the batch window or until
// the batch is full. The first frame is never held longer than the window.
func (s *Sink) Collect(ctx context.Context, first Frame) []Frame {
	batch := append(make([]Frame, 0, 8), first)
	timer := time.NewTimer(s.window)
	defer timer.Stop()
	for len(batch) < s.maxBatch {
		select {
		case f := <-s.queue:
			batch = append(batch, f)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		case <-s.done:
			return batch
		}
	}
	return batch
}

// NextBatch blocks for the next frame and returns it with whatever follows
// within the batch window. It returns ctx.Err() when ctx ends and
// ErrClosed after Unsubscribe.
func (s *Sink) NextBatch(ctx context.Context) ([]Frame, error) {
	select {
	case f := <-s.queue:
		return s.Collect(ctx, f), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}
