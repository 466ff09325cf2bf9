// ABOUTME: Tests for the TTL seen-set
// ABOUTME: Uses a fake clock for expiry and checks size-capped eviction order

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSeen_CheckAndMark(t *testing.T) {
	s := New[int64](time.Minute, 10)

	assert.False(t, s.Check(7))
	assert.False(t, s.CheckAndMark(7), "first sighting is not a duplicate")
	assert.True(t, s.CheckAndMark(7), "second sighting is")
	assert.True(t, s.Check(7))
	assert.False(t, s.Check(8))
}

func TestSeen_Expiry(t *testing.T) {
	clk := newClock()
	s := New[string](time.Minute, 10, WithClock(clk.Now))

	s.Mark("a")
	clk.Advance(59 * time.Second)
	assert.True(t, s.Check("a"))

	clk.Advance(time.Second)
	assert.False(t, s.Check("a"))
	assert.False(t, s.CheckAndMark("a"), "expired key counts as new")
}

func TestSeen_MarkRefreshes(t *testing.T) {
	clk := newClock()
	s := New[string](time.Minute, 10, WithClock(clk.Now))

	s.Mark("a")
	clk.Advance(40 * time.Second)
	s.Mark("a")
	clk.Advance(40 * time.Second)

	assert.True(t, s.Check("a"))
}

func TestSeen_PrunesExpiredOnMark(t *testing.T) {
	clk := newClock()
	s := New[int](time.Minute, 0, WithClock(clk.Now))

	for i := range 5 {
		s.Mark(i)
	}
	assert.Equal(t, 5, s.Len())

	clk.Advance(2 * time.Minute)
	s.Mark(99)
	assert.Equal(t, 1, s.Len())
}

func TestSeen_EvictsOldest(t *testing.T) {
	clk := newClock()
	s := New[string](time.Hour, 3, WithClock(clk.Now))

	s.Mark("a")
	clk.Advance(time.Second)
	s.Mark("b")
	clk.Advance(time.Second)
	s.Mark("c")
	clk.Advance(time.Second)

	// Refresh a so b becomes the oldest
	s.Mark("a")
	s.Mark("d")

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Check("b"))
	assert.True(t, s.Check("a"))
	assert.True(t, s.Check("c"))
	assert.True(t, s.Check("d"))
}

func TestSeen_ConcurrentCheckAndMark(t *testing.T) {
	s := New[int64](time.Minute, 0)

	var wg sync.WaitGroup
	results := make(chan bool, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.CheckAndMark(42)
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for dup := range results {
		if !dup {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller sees the key as new")
}
