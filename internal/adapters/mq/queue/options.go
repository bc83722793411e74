package queue

import "github.com/okian/pulse/internal/domain/model"

// Option applies a configuration option to the PriorityQueue.
type Option func(*PriorityQueue)

// WithCapacity sets the capacity of each priority lane.
func WithCapacity(capacity int) Option {
	return func(q *PriorityQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithPriorities sets the lanes, highest first.
func WithPriorities(names ...string) Option {
	return func(q *PriorityQueue) {
		if len(names) == 0 {
			return
		}
		q.order = q.order[:0]
		for _, n := range names {
			q.order = append(q.order, model.Priority(n))
		}
	}
}
