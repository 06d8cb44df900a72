// Package collection provides small generic containers used for graph walks.
package collection

import (
	"container/list"
)

// Queue is a FIFO queue.
type Queue[T any] struct {
	data list.List
}

func NewQueue[T any](items ...T) *Queue[T] {
	q := &Queue[T]{}
	for _, item := range items {
		q.Push(item)
	}
	return q
}

func (q *Queue[T]) Push(v T) {
	q.data.PushBack(v)
}

// Pop removes and returns the head. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	e := q.data.Front()
	if e == nil {
		return v, false
	}

	q.data.Remove(e)
	return e.Value.(T), true
}

func (q *Queue[T]) Len() int {
	return q.data.Len()
}

// Drain pops elements until the queue is empty or yield returns false.
// Elements pushed while draining are visited too.
func (q *Queue[T]) Drain(yield func(T) bool) {
	for e := q.data.Front(); e != nil; e = q.data.Front() {
		q.data.Remove(e)

		if !yield(e.Value.(T)) {
			break
		}
	}
}
