// Package queue holds pending diagnostic jobs in priority lanes.
//
// Consumers always drain a higher lane before looking at a lower one. Each
// lane is a bounded channel; enqueue never blocks.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/metrics"
)

const defaultLaneCapacity = 10000

// Message is one unit of queued work.
type Message struct {
	JobID        string         `json:"job_id"`
	SubjectID    string         `json:"subject_id"`
	Priority     model.Priority `json:"priority"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	ForceRefresh bool           `json:"force_refresh,omitempty"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue returns false if the lane is full or the queue is closed.
	Enqueue(ctx context.Context, m Message) bool

	// Dequeue returns a channel fed in priority order. It is closed once the
	// queue is closed and drained, or ctx ends.
	Dequeue(ctx context.Context) <-chan Message

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// PriorityQueue implements Queue with one buffered channel per priority.
type PriorityQueue struct {
	order    []model.Priority
	capacity int
	lanes    map[model.Priority]chan Message

	// ready wakes one idle consumer; consumers pass the signal on while work remains.
	ready chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPriorityQueue creates a queue with lanes high, default, low unless configured.
func NewPriorityQueue(opts ...Option) *PriorityQueue {
	q := &PriorityQueue{
		order:    []model.Priority{model.PriorityHigh, model.PriorityDefault, model.PriorityLow},
		capacity: defaultLaneCapacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.lanes = make(map[model.Priority]chan Message, len(q.order))
	for _, p := range q.order {
		q.lanes[p] = make(chan Message, q.capacity)
		metrics.UpdateQueueDepth(string(p), 0)
	}
	return q
}

// Priorities returns the lanes, highest first.
func (q *PriorityQueue) Priorities() []model.Priority {
	out := make([]model.Priority, len(q.order))
	copy(out, q.order)
	return out
}

// Resolve maps p onto a configured lane. Unknown priorities use the default
// lane, or the lowest lane when there is none.
func (q *PriorityQueue) Resolve(p model.Priority) model.Priority {
	if _, ok := q.lanes[p]; ok {
		return p
	}
	if _, ok := q.lanes[model.PriorityDefault]; ok {
		return model.PriorityDefault
	}
	return q.order[len(q.order)-1]
}

// Enqueue adds m to its priority lane.
func (q *PriorityQueue) Enqueue(ctx context.Context, m Message) bool { //nolint:gocritic // hugeParam: Message is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return false
	}

	m.Priority = q.Resolve(m.Priority)
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	lane := q.lanes[m.Priority]
	select {
	case lane <- m:
		metrics.UpdateQueueDepth(string(m.Priority), len(lane))
		q.signal()
		return true
	default:
		metrics.RecordQueueRejected("queue_full")
		return false
	}
}

func (q *PriorityQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take pops from the highest non-empty lane without blocking.
func (q *PriorityQueue) take() (Message, bool) {
	for _, p := range q.order {
		lane := q.lanes[p]
		select {
		case m := <-lane:
			metrics.UpdateQueueDepth(string(p), len(lane))
			return m, true
		default:
		}
	}
	return Message{}, false
}

// next blocks until a message is available, the queue is closed and empty, or ctx ends.
func (q *PriorityQueue) next(ctx context.Context) (Message, bool) {
	for {
		if m, ok := q.take(); ok {
			if q.Len(ctx) > 0 {
				q.signal()
			}
			return m, true
		}
		select {
		case <-ctx.Done():
			return Message{}, false
		case <-q.done:
			// Closed. Drain whatever is left before giving up.
			if m, ok := q.take(); ok {
				return m, true
			}
			return Message{}, false
		case <-q.ready:
		}
	}
}

// Dequeue returns a channel that receives messages highest priority first.
func (q *PriorityQueue) Dequeue(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, ok := q.next(ctx)
			if !ok {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				q.requeue(m)
				return
			}
		}
	}()
	return out
}

// requeue puts back a message taken by a consumer that stopped before delivering it.
func (q *PriorityQueue) requeue(m Message) { //nolint:gocritic // hugeParam
	lane := q.lanes[m.Priority]
	select {
	case lane <- m:
		metrics.UpdateQueueDepth(string(m.Priority), len(lane))
		q.signal()
	default:
		metrics.RecordQueueRejected("requeue_full")
	}
}

// Len returns the number of queued messages across lanes.
func (q *PriorityQueue) Len(context.Context) int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// Depths returns the number of queued messages per lane.
func (q *PriorityQueue) Depths() map[string]int {
	out := make(map[string]int, len(q.lanes))
	for p, lane := range q.lanes {
		out[string(p)] = len(lane)
	}
	return out
}

// Close stops accepting messages. Queued messages can still be drained.
func (q *PriorityQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *PriorityQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
