// Package peripheral tracks external audio hardware: wired headsets,
// Bluetooth headsets and docks. Each monitor owns one piece of state,
// updated only by its event receiver, and reports changes to listeners.
package peripheral

import (
	"slices"
	"sync"
)

// Poster runs fn on the owner of the state the listeners mutate. The
// orchestrator's Do method is the usual Poster; the default runs fn inline.
type Poster func(fn func())

func inline(fn func()) { fn() }

// listenerSet is an ordered set of callbacks with unregister funcs.
type listenerSet[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	fn T
}

func (s *listenerSet[T]) add(fn T) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = slices.DeleteFunc(s.entries, func(e listenerEntry[T]) bool {
			return e.id == id
		})
	}
}

// snapshot copies the callbacks so they can run without holding mu
func (s *listenerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}
