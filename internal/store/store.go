// Package store keeps a bounded in-memory history of decoded events.
package store

import (
	"sync"
	"time"

	"github.com/stormfeed/stormfeed/internal/event"
)

// Store is a fixed-capacity FIFO ring of events plus a lifetime insert
// counter. One writer (the feed connector) and many readers (subscriber
// sessions, snapshot queries) share it; eviction plus append happens as a
// single operation under the lock so readers never observe a half-evicted
// buffer.
type Store struct {
	mu       sync.RWMutex
	buf      []event.Event
	start    int // index of oldest element
	size     int
	lifetime uint64
}

// Snapshot is the read-only composite returned to the query API.
type Snapshot struct {
	Events     []event.Event `json:"events"`
	Lifetime   uint64        `json:"total"`
	LastMinute int           `json:"lastMinute"`
}

// New creates a store with the given fixed capacity.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{buf: make([]event.Event, capacity)}
}

// Record appends an event, evicting the oldest if the buffer is full, and
// increments the lifetime counter. O(1).
func (s *Store) Record(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < len(s.buf) {
		s.buf[(s.start+s.size)%len(s.buf)] = e
		s.size++
	} else {
		s.buf[s.start] = e
		s.start = (s.start + 1) % len(s.buf)
	}
	s.lifetime++
}

// RecentN returns the last n events in insertion order, oldest first. If
// fewer than n are buffered, all of them are returned.
func (s *Store) RecentN(n int) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.size {
		n = s.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]event.Event, n)
	first := s.size - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+first+i)%len(s.buf)]
	}
	return out
}

// LifetimeCount returns the monotonic insert counter. Eviction never
// decrements it.
func (s *Store) LifetimeCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifetime
}

// CountSince counts buffered events whose timestamp falls within the
// trailing window of wall-clock time. Events already evicted by a burst are
// not counted, so this is a lower bound on true recent volume.
func (s *Store) CountSince(window time.Duration) int {
	cutoff := time.Now().Add(-window).UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := 0; i < s.size; i++ {
		if s.buf[(s.start+i)%len(s.buf)].TimeMs >= cutoff {
			count++
		}
	}
	return count
}

// Snapshot returns the last n events together with the lifetime counter and
// the trailing-minute count, under a single read lock.
func (s *Store) Snapshot(n int) Snapshot {
	cutoff := time.Now().Add(-time.Minute).UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.size {
		n = s.size
	}
	if n < 0 {
		n = 0
	}
	events := make([]event.Event, n)
	first := s.size - n
	for i := 0; i < n; i++ {
		events[i] = s.buf[(s.start+first+i)%len(s.buf)]
	}

	lastMinute := 0
	for i := 0; i < s.size; i++ {
		if s.buf[(s.start+i)%len(s.buf)].TimeMs >= cutoff {
			lastMinute++
		}
	}

	return Snapshot{Events: events, Lifetime: s.lifetime, LastMinute: lastMinute}
}
