package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

func msg(id string, p model.Priority) Message {
	return Message{JobID: id, SubjectID: "s-" + id, Priority: p}
}

func TestPriorityQueue_BasicOperations(t *testing.T) {
	q := NewPriorityQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, msg("job1", model.PriorityDefault)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := <-q.Dequeue(cctx)
	if m.JobID != "job1" {
		t.Errorf("expected job1, got %v", m.JobID)
	}
	if m.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
}

func TestPriorityQueue_Capacity(t *testing.T) {
	q := NewPriorityQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, msg("1", model.PriorityLow)) || !q.Enqueue(ctx, msg("2", model.PriorityLow)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, msg("3", model.PriorityLow)) {
		t.Error("expected enqueue to fail when the lane is full")
	}
	// Other lanes are independent.
	if !q.Enqueue(ctx, msg("4", model.PriorityHigh)) {
		t.Error("expected enqueue on another lane to succeed")
	}
	if d := q.Depths(); d["low"] != 2 || d["high"] != 1 {
		t.Errorf("unexpected depths %v", d)
	}
}

func TestPriorityQueue_Order(t *testing.T) {
	q := NewPriorityQueue()
	ctx := context.Background()

	q.Enqueue(ctx, msg("low", model.PriorityLow))
	q.Enqueue(ctx, msg("default", model.PriorityDefault))
	q.Enqueue(ctx, msg("high", model.PriorityHigh))
	q.Enqueue(ctx, msg("unknown", model.Priority("urgent")))
	_ = q.Close()

	var got []string
	for m := range q.Dequeue(ctx) {
		got = append(got, m.JobID)
	}
	want := []string{"high", "default", "unknown", "low"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPriorityQueue_ConcurrentAccess(t *testing.T) {
	q := NewPriorityQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producers, perProducer := 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			prio := q.Priorities()[id%3]
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, msg(fmt.Sprintf("%d_%d", id, j), prio)) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	consumed := make(chan string, producers*perProducer)
	var cwg sync.WaitGroup
	for i := 0; i < 4; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for m := range q.Dequeue(ctx) {
				consumed <- m.JobID
			}
		}()
	}

	wg.Wait()
	_ = q.Close()
	cwg.Wait()

	if n := len(consumed); n != producers*perProducer {
		t.Errorf("expected %d consumed, got %d", producers*perProducer, n)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestPriorityQueue_GracefulShutdown(t *testing.T) {
	q := NewPriorityQueue(WithCapacity(10), WithPriorities("fast", "slow"))
	ctx := context.Background()

	if !q.Enqueue(ctx, msg("1", "slow")) {
		t.Error("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, msg("2", "fast")) {
		t.Error("expected enqueue to fail after closing")
	}

	ch := q.Dequeue(ctx)
	timeout := time.After(100 * time.Millisecond)
	drained := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if drained != 1 {
					t.Errorf("expected 1 drained message, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}

func TestPriorityQueue_CancelledConsumerRequeues(t *testing.T) {
	q := NewPriorityQueue()
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	q.Enqueue(context.Background(), msg("1", model.PriorityHigh))
	time.Sleep(20 * time.Millisecond)
	cancel()
	_ = ch
	deadline := time.Now().Add(time.Second)
	for q.Len(context.Background()) != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.Len(context.Background()) != 1 {
		t.Errorf("expected the undelivered message to be requeued")
	}
}
