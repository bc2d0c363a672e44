package queue

import (
	"errors"
	"sync"
)

var ErrQueueEmpty = errors.New("queue is empty")

// Queue is a FIFO safe for use by multiple goroutines.
type Queue[T any] struct {
	items []T
	mu    sync.Mutex
}

func New[T any](initialCap uint) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, initialCap)}
}

func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
}

func (q *Queue[T]) Dequeue() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, ErrQueueEmpty
	}

	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return v, nil
}

func (q *Queue[T]) Peek() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}
	return q.items[0], nil
}

// Remove drops the first element matching pred.
func (q *Queue[T]) Remove(pred func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for idx, v := range q.items {
		if pred(v) {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue and returns what it held, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

func (q *Queue[T]) Len() uint {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint(len(q.items))
}
