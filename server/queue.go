package server

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with context-aware blocking poll, backing the
// matcher between task producers and long-polling workers.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{})}
}

func (q *queue[T]) push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	close(q.notify)
	q.notify = make(chan struct{})
}

// poll blocks until an item is available or ctx is done.
func (q *queue[T]) poll(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-notify:
		}
	}
}
