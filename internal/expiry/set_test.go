// ABOUTME: Tests for the TTL set of abandoned correlation IDs.
// ABOUTME: Validates expiry, one-shot Take, size-bounded eviction, sweeping and concurrency safety.

package expiry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSet(ttl time.Duration, size int) (*Set, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := New(ttl, size)
	s.now = clock.Now
	return s, clock
}

func TestSet_TakeAfterMark(t *testing.T) {
	s, _ := newTestSet(time.Minute, 10)
	defer s.Close()

	assert.False(t, s.Take("req-1"))
	s.Mark("req-1")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Take("req-1"))
}

func TestSet_Expires(t *testing.T) {
	s, clock := newTestSet(time.Minute, 10)
	defer s.Close()

	s.Mark("req-1")
	clock.Advance(61 * time.Second)

	assert.False(t, s.Take("req-1"))
}

func TestSet_TakeIsOneShot(t *testing.T) {
	s, _ := newTestSet(time.Minute, 10)
	defer s.Close()

	s.Mark("req-1")
	assert.True(t, s.Take("req-1"))
	assert.False(t, s.Take("req-1"))
	assert.Equal(t, 0, s.Len())
}

func TestSet_EvictsOldestWhenFull(t *testing.T) {
	s, _ := newTestSet(time.Minute, 3)
	defer s.Close()

	s.Mark("a")
	s.Mark("b")
	s.Mark("c")
	s.Mark("d")

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Take("a"))
	assert.True(t, s.Take("b"))
	assert.True(t, s.Take("d"))
}

func TestSet_RemarkRefreshesPosition(t *testing.T) {
	s, _ := newTestSet(time.Minute, 3)
	defer s.Close()

	s.Mark("a")
	s.Mark("b")
	s.Mark("c")
	s.Mark("a") // a is now newest
	s.Mark("d") // evicts b

	assert.True(t, s.Take("a"))
	assert.False(t, s.Take("b"))
}

func TestSet_RemoveExpired(t *testing.T) {
	s, clock := newTestSet(time.Minute, 10)
	defer s.Close()

	s.Mark("old-1")
	s.Mark("old-2")
	clock.Advance(45 * time.Second)
	s.Mark("fresh")
	clock.Advance(30 * time.Second)

	s.removeExpired()

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Take("fresh"))
}

func TestSet_CloseIsIdempotent(t *testing.T) {
	s := New(time.Minute, 10)
	s.Close()
	s.Close()
}

func TestSet_Concurrent(t *testing.T) {
	s := New(time.Minute, 1000)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("req-%d-%d", n, j)
				s.Mark(id)
				s.Take(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len())
}
