// Package store provides the in-memory, retention-bounded storage used for
// call-log records.
package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Entry wraps a value with its storage metadata
type Entry[V any] struct {
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

// expired reports whether the entry is past its expiry at now. A zero
// expiry never expires.
func (e *Entry[V]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// TTLStore keeps values for a fixed retention period and, optionally, no
// more than a fixed number of them. Insertion order is kept so the newest
// entries can be listed first.
type TTLStore[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*Entry[V]
	order    []K
	ttl      time.Duration
	maxItems int
	now      func() time.Time
	onEvict  func(key K, value V)
}

// Option configures a TTLStore
type Option[K comparable, V any] func(*TTLStore[K, V])

// WithMaxItems bounds the store; the oldest entries are evicted first
func WithMaxItems[K comparable, V any](n int) Option[K, V] {
	return func(s *TTLStore[K, V]) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithClock overrides time.Now
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(s *TTLStore[K, V]) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEvict registers a callback for entries removed by expiry or by the
// size bound. It is not called on Delete, and never under the store lock.
func WithEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(s *TTLStore[K, V]) {
		s.onEvict = fn
	}
}

// NewTTLStore creates a store keeping values for ttl. A ttl of zero keeps
// values until they are deleted or pushed out by the size bound.
func NewTTLStore[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items: make(map[K]*Entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// Put stores value under key, replacing and re-ordering any previous value
func (s *TTLStore[K, V]) Put(key K, value V) {
	s.mu.Lock()
	now := s.now()
	e := &Entry[V]{Value: value, StoredAt: now}
	if s.ttl > 0 {
		e.ExpiresAt = now.Add(s.ttl)
	}
	if _, exists := s.items[key]; exists {
		s.order = slices.DeleteFunc(s.order, func(k K) bool { return k == key })
	}
	s.items[key] = e
	s.order = append(s.order, key)

	var out []evicted[K, V]
	for s.maxItems > 0 && len(s.order) > s.maxItems {
		oldest := s.order[0]
		s.order = s.order[1:]
		out = append(out, evicted[K, V]{oldest, s.items[oldest].Value})
		delete(s.items, oldest)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	s.notifyEvicted(onEvict, out)
}

// Get returns the value for key if present and not expired
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(s.now()) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// GetEntry returns the entry for key with its metadata
func (s *TTLStore[K, V]) GetEntry(key K) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(s.now()) {
		return Entry[V]{}, false
	}
	return *e, true
}

// Delete removes key and reports whether it was present
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	s.order = slices.DeleteFunc(s.order, func(k K) bool { return k == key })
	return true
}

// Len returns the number of live entries
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Recent returns up to limit live values, newest first. A limit of zero
// or less returns all of them.
func (s *TTLStore[K, V]) Recent(limit int) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]V, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.items[s.order[i]]
		if e.expired(now) {
			continue
		}
		out = append(out, e.Value)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Sweep removes expired entries and returns how many it removed
func (s *TTLStore[K, V]) Sweep() int {
	s.mu.Lock()
	now := s.now()
	var out []evicted[K, V]
	kept := s.order[:0]
	for _, k := range s.order {
		e := s.items[k]
		if e.expired(now) {
			out = append(out, evicted[K, V]{k, e.Value})
			delete(s.items, k)
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept
	onEvict := s.onEvict
	s.mu.Unlock()

	s.notifyEvicted(onEvict, out)
	return len(out)
}

// Run sweeps every interval until ctx is done
func (s *TTLStore[K, V]) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Clear removes every entry without eviction callbacks
func (s *TTLStore[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[K]*Entry[V])
	s.order = nil
}

func (s *TTLStore[K, V]) notifyEvicted(onEvict func(K, V), out []evicted[K, V]) {
	if onEvict == nil {
		return
	}
	for _, e := range out {
		onEvict(e.key, e.value)
	}
}
