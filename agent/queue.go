package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/joeycumines/go-alivebatch/xlog"
)

// ErrQueueClosed is returned by [Queue.Enqueue] once the queue has been
// closed.
var ErrQueueClosed = errors.New(`agent: queue closed`)

// Queue is an unbounded, multi-producer single-consumer queue, intended to
// be drained by exactly one [Agent] (via [NewQueueAgent]). Enqueue never
// blocks the caller on consumer speed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

// NewQueue returns an empty, open [Queue].
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Enqueue appends item, failing with [ErrQueueClosed] if the queue can no
// longer accept items.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the queue closed; further [Queue.Enqueue] calls fail. Already
// buffered items remain available to the consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) tryDequeue() (item T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false, q.closed
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true, false
}

// QueueAgent is an [Agent] whose step drains a [Queue], invoking handler for
// each item and logging (not propagating) handler failures, so one bad item
// never stops the drain.
type QueueAgent[T any] struct {
	*Agent
	queue *Queue[T]
}

// NewQueueAgent constructs a [QueueAgent] around a fresh [Queue]. The queue
// is available via [QueueAgent.Enqueue] once [Agent.Start] is called.
func NewQueueAgent[T any](ctx context.Context, category string, handler func(ctx context.Context, item T) error, logger xlog.Logger) *QueueAgent[T] {
	q := NewQueue[T]()
	logger = xlog.OrNop(logger)

	qa := &QueueAgent[T]{queue: q}
	qa.Agent = New(ctx, category, func(ctx context.Context) (bool, error) {
		item, ok, closed := q.tryDequeue()
		if !ok {
			if closed {
				return false, nil
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-q.notify:
				return true, nil
			}
		}

		if err := handler(ctx, item); err != nil {
			xlog.Warn(logger, category, "queue item handler failed", err)
		}
		return true, nil
	}, logger)

	return qa
}

// Enqueue appends item to the underlying [Queue].
func (a *QueueAgent[T]) Enqueue(item T) error {
	return a.queue.Enqueue(item)
}

// CloseQueue closes the underlying [Queue]; the agent drains any remaining
// buffered items, then stops.
func (a *QueueAgent[T]) CloseQueue() {
	a.queue.Close()
}
