package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a keyed token bucket.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for replay and tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{m: make(map[string]*bucket), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	return l.AllowAt(key, capacity, refillPerSec, l.now())
}

// AllowAt is Allow evaluated at an explicit instant.
func (l *Limiter) AllowAt(key string, capacity, refillPerSec float64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

// Cooldown lets one event through and then blocks every caller until the
// interval has elapsed. There is one gate for all keys.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	lastPass time.Time
	prevPass time.Time
}

func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{interval: interval}
}

// TryAt consumes the cool-down if it is open at now.
func (c *Cooldown) TryAt(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastPass.IsZero() && now.Before(c.lastPass.Add(c.interval)) {
		return false
	}
	c.prevPass, c.lastPass = c.lastPass, now
	return true
}

// Release hands back the pass taken by TryAt(at) when the event it allowed
// did not happen. A later pass is left alone.
func (c *Cooldown) Release(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPass.Equal(at) {
		c.lastPass, c.prevPass = c.prevPass, time.Time{}
	}
}

// Remaining reports how long the gate stays closed after now.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPass.IsZero() {
		return 0
	}
	if left := c.lastPass.Add(c.interval).Sub(now); left > 0 {
		return left
	}
	return 0
}
