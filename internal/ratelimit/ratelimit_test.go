package ratelimit

import (
	"sync"
	"sync/atomic"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
}

func TestNoop(t *testing.T) {
	t.Parallel()
	var l Limiter = Noop{}
	for range 1000 {
		assert.True(t, l.TryConsume("anyone"))
	}
}

func TestWindowLimiter_Hourly(t *testing.T) {
	t.Parallel()
	clock := newClock()
	l := NewWindowLimiter(3, 100).WithClock(clock.Now)

	for range 3 {
		assert.True(t, l.TryConsume("alice"))
	}
	assert.False(t, l.TryConsume("alice"))
	assert.True(t, l.TryConsume("bob"), "keys are independent")

	u := l.Usage("alice")
	assert.Equal(t, Usage{Hourly: 3, HourlyLimit: 3, Daily: 3, DailyLimit: 100}, u)

	clock.Advance(time.Hour)
	assert.True(t, l.TryConsume("alice"), "new hour resets the hourly counter")
	assert.Equal(t, 4, l.Usage("alice").Daily)
}

func TestWindowLimiter_Daily(t *testing.T) {
	t.Parallel()
	clock := newClock()
	l := NewWindowLimiter(10, 4).WithClock(clock.Now)

	allowed := 0
	for range 6 {
		if l.TryConsume("alice") {
			allowed++
		}
		clock.Advance(time.Hour)
	}
	assert.Equal(t, 4, allowed)

	clock.Advance(24 * time.Hour)
	assert.True(t, l.TryConsume("alice"))
}

func TestWindowLimiter_RejectedDoesNotConsume(t *testing.T) {
	t.Parallel()
	clock := newClock()
	l := NewWindowLimiter(1, 5).WithClock(clock.Now)

	assert.True(t, l.TryConsume("k"))
	for range 10 {
		assert.False(t, l.TryConsume("k"))
	}
	assert.Equal(t, 1, l.Usage("k").Daily)
}

func TestWindowLimiter_ZeroDisablesWindow(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(0, 2).WithClock(newClock().Now)
	assert.True(t, l.TryConsume("k"))
	assert.True(t, l.TryConsume("k"))
	assert.False(t, l.TryConsume("k"))
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(50, 1000).WithClock(newClock().Now)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 20 {
				if l.TryConsume("shared") {
					allowed.Add(1)
				}
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(50), allowed.Load())
}

func TestTokenBucket(t *testing.T) {
	t.Parallel()
	clock := newClock()
	b := NewTokenBucket(1, 2).WithClock(clock.Now)

	assert.True(t, b.TryConsume("k"))
	assert.True(t, b.TryConsume("k"))
	assert.False(t, b.TryConsume("k"), "burst exhausted")
	assert.True(t, b.TryConsume("other"))

	clock.Advance(time.Second)
	assert.True(t, b.TryConsume("k"), "one token refilled")
	assert.False(t, b.TryConsume("k"))
}

func TestChain(t *testing.T) {
	t.Parallel()
	clock := newClock()
	c := Chain{NewTokenBucket(100, 100).WithClock(clock.Now), NewWindowLimiter(2, 10).WithClock(clock.Now)}

	assert.True(t, c.TryConsume("k"))
	assert.True(t, c.TryConsume("k"))
	assert.False(t, c.TryConsume("k"))
}
