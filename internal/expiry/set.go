// ABOUTME: Thread-safe TTL set remembering correlation IDs of abandoned exchanges.
// ABOUTME: Lets the relay tell a late provisioning reply apart from an unknown one.

package expiry

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when an ID was marked and its position in the eviction order.
type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Set is a TTL-bounded, size-bounded set of string IDs. The oldest ID is
// evicted when the set is full; a background goroutine sweeps expired IDs.
type Set struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a Set and starts its sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Set {
	s := &Set{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Mark remembers id until it expires or is evicted.
func (s *Set) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.ids[id]; ok {
		e.markedAt = now
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.ids) >= s.maxSize {
		s.evictOldestLocked()
	}

	s.ids[id] = &entry{
		markedAt: now,
		element:  s.order.PushBack(id),
	}
}

// Take reports whether id was marked and not expired, and forgets it.
// A late reply is only reported once.
func (s *Set) Take(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ids[id]
	if !ok {
		return false
	}
	s.order.Remove(e.element)
	delete(s.ids, id)
	return s.now().Sub(e.markedAt) < s.ttl
}

// Len returns the number of IDs currently held, expired or not.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// evictOldestLocked must be called with mu held.
func (s *Set) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.ids, id)
}

func (s *Set) sweep() {
	interval := s.ttl / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

// removeExpired walks from the oldest entry and stops at the first live one;
// marks are appended in time order so everything behind it is live too.
func (s *Set) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		id, _ := front.Value.(string)
		if now.Sub(s.ids[id].markedAt) < s.ttl {
			return
		}
		s.order.Remove(front)
		delete(s.ids, id)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
