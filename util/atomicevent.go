package util

import (
	"context"
	"sync"
)

// AtomicEvent holds the latest value published by a producer and wakes up a
// single consumer without ever blocking the producer. Intermediate values
// are dropped when the consumer is slower.
type AtomicEvent[T any] struct {
	mu     sync.Mutex
	value  T
	notify chan struct{} // capacity 1
}

// NewAtomicEvent creates a new AtomicEvent instance.
func NewAtomicEvent[T any]() *AtomicEvent[T] {
	return &AtomicEvent[T]{
		notify: make(chan struct{}, 1),
	}
}

// Send replaces the value. It never blocks.
func (ae *AtomicEvent[T]) Send(event T) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	ae.value = event

	select {
	case ae.notify <- struct{}{}:
	default:
		// A notification is already pending.
	}
}

// Value returns the latest value.
func (ae *AtomicEvent[T]) Value() T {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.value
}

// Wait blocks until a value is sent or ctx is done.
func (ae *AtomicEvent[T]) Wait(ctx context.Context) (T, bool) {
	select {
	case <-ae.notify:
		return ae.Value(), true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
