// Package events fans values out to any number of registered receivers.
package events

import (
	"fmt"
	"sync"
)

// messageBuffer is the per-receiver backlog. A value is dropped for a
// receiver whose buffer is full, so slow websocket writers only lose their
// own messages.
const messageBuffer = 100

// Events maps a receiver id to the channel it reads values from.
type Events[T any] struct {
	m  map[string]chan T
	mu sync.RWMutex
}

// New constructs an empty set of receivers.
func New[T any]() *Events[T] {
	return &Events[T]{
		m: make(map[string]chan T),
	}
}

// Shutdown closes and removes every channel handed out by Acquire.
func (evt *Events[T]) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire registers id and returns its channel. Acquiring an id twice
// returns the same channel.
func (evt *Events[T]) Acquire(id string) <-chan T {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	if ch, exists := evt.m[id]; exists {
		return ch
	}

	ch := make(chan T, messageBuffer)
	evt.m[id] = ch
	return ch
}

// Release closes and removes the channel registered for id.
func (evt *Events[T]) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send delivers v to every registered channel without blocking on any of
// them.
func (evt *Events[T]) Send(v T) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- v:
		default:
		}
	}
}

// Len reports the number of registered receivers.
func (evt *Events[T]) Len() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}
