// Package ratelimit provides injectable request limiters keyed by caller.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request for key may proceed. A true result
// consumes one unit of the key's allowance.
type Limiter interface {
	TryConsume(key string) bool
}

// Noop allows everything.
type Noop struct{}

func (Noop) TryConsume(string) bool { return true }

// Usage reports consumption in the current windows.
type Usage struct {
	Hourly      int `json:"hourly"`
	HourlyLimit int `json:"hourly_limit"`
	Daily       int `json:"daily"`
	DailyLimit  int `json:"daily_limit"`
}

// WindowLimiter enforces fixed hourly and daily quotas per key. Counters
// live in a go-cache and expire with their window. A limit of zero
// disables that window.
type WindowLimiter struct {
	mu          sync.Mutex
	counters    *cache.Cache
	hourlyLimit int
	dailyLimit  int
	now         func() time.Time
}

// NewWindowLimiter creates a limiter with hourly and daily quotas.
func NewWindowLimiter(hourly, daily int) *WindowLimiter {
	return &WindowLimiter{
		counters:    cache.New(time.Hour, 10*time.Minute),
		hourlyLimit: hourly,
		dailyLimit:  daily,
		now:         time.Now,
	}
}

// WithClock replaces the clock; used by tests.
func (l *WindowLimiter) WithClock(now func() time.Time) *WindowLimiter {
	l.now = now
	return l
}

type window struct {
	name  string
	size  time.Duration
	limit int
}

func (l *WindowLimiter) windows() []window {
	return []window{
		{name: "hour", size: time.Hour, limit: l.hourlyLimit},
		{name: "day", size: 24 * time.Hour, limit: l.dailyLimit},
	}
}

func counterKey(key string, w window, now time.Time) string {
	return fmt.Sprintf("%s|%s|%d", key, w.name, now.UTC().Truncate(w.size).Unix())
}

// TryConsume increments both windows only when neither is exhausted.
func (l *WindowLimiter) TryConsume(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, w := range l.windows() {
		if w.limit > 0 && l.count(counterKey(key, w, now)) >= w.limit {
			return false
		}
	}
	for _, w := range l.windows() {
		if w.limit <= 0 {
			continue
		}
		k := counterKey(key, w, now)
		if _, err := l.counters.IncrementInt(k, 1); err != nil {
			l.counters.Set(k, 1, w.size)
		}
	}
	return true
}

// Usage returns current consumption for key.
func (l *WindowLimiter) Usage(key string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ws := l.windows()
	return Usage{
		Hourly:      l.count(counterKey(key, ws[0], now)),
		HourlyLimit: l.hourlyLimit,
		Daily:       l.count(counterKey(key, ws[1], now)),
		DailyLimit:  l.dailyLimit,
	}
}

func (l *WindowLimiter) count(k string) int {
	if v, ok := l.counters.Get(k); ok {
		return v.(int)
	}
	return 0
}

// TokenBucket is a per-key token bucket for smoothing bursts.
type TokenBucket struct {
	limiters *cache.Cache
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewTokenBucket allows perSecond requests per key with the given burst.
// Idle keys are forgotten after an hour.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	return &TokenBucket{
		limiters: cache.New(time.Hour, 10*time.Minute),
		limit:    rate.Limit(perSecond),
		burst:    max(burst, 1),
		now:      time.Now,
	}
}

// WithClock replaces the clock; used by tests.
func (b *TokenBucket) WithClock(now func() time.Time) *TokenBucket {
	b.now = now
	return b
}

func (b *TokenBucket) TryConsume(key string) bool {
	b.mu.Lock()
	var lim *rate.Limiter
	if v, ok := b.limiters.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(b.limit, b.burst)
	}
	b.limiters.SetDefault(key, lim)
	b.mu.Unlock()

	return lim.AllowN(b.now(), 1)
}

// Chain requires every limiter to allow the request. Limiters are
// consulted in order and stop at the first refusal.
type Chain []Limiter

func (c Chain) TryConsume(key string) bool {
	for _, l := range c {
		if !l.TryConsume(key) {
			return false
		}
	}
	return true
}
