// Package observer provides the listener sets used for synchronous change notification.
package observer

import (
	"sync"
	"sync/atomic"
)

type listener[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// Set is an ordered set of listeners. Emit delivers synchronously, in registration order, without
// holding the set's lock, so listeners may subscribe or unsubscribe while being notified.
type Set[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
}

// Add registers fn and returns a func that removes it. Removal is idempotent; a listener removed
// during an Emit is not called for the rest of that Emit.
func (s *Set[T]) Add(fn func(T)) func() {
	l := &listener[T]{fn: fn}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	return func() {
		if l.removed.Swap(true) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.listeners {
			if other == l {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// Emit calls every registered listener with v.
func (s *Set[T]) Emit(v T) {
	// Collect the listeners under the lock and call them outside of it.
	s.mu.Lock()
	toCall := make([]*listener[T], len(s.listeners))
	copy(toCall, s.listeners)
	s.mu.Unlock()

	for _, l := range toCall {
		if l.removed.Load() {
			continue
		}
		l.fn(v)
	}
}

// Len reports the number of registered listeners.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
