// Package cache keeps last-known values of collaborator snapshots together
// with the time they were stored, so callers can fall back to them and
// report their age.
package cache

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	v   any
	at  time.Time
	exp time.Time
}

// Snapshots is an in-process TTL map of last-known values.
type Snapshots struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

func NewSnapshots() *Snapshots {
	return &Snapshots{m: make(map[string]entry), now: time.Now}
}

// SetClock replaces time.Now.
func (c *Snapshots) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Set stores v under key. ttl <= 0 keeps it until replaced.
func (c *Snapshots) Set(key string, v any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.m[key] = entry{v: v, at: now, exp: exp}
}

// Get returns the value and its age.
func (c *Snapshots) Get(key string) (any, time.Duration, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}
	if !e.exp.IsZero() && now.After(e.exp) {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.at.Equal(e.at) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, 0, false
	}
	return e.v, now.Sub(e.at), true
}

func (c *Snapshots) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Keys returns the live keys in order.
func (c *Snapshots) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make([]string, 0, len(c.m))
	for k, e := range c.m {
		if e.exp.IsZero() || !now.After(e.exp) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Load is a typed Get. A value of another type counts as a miss.
func Load[T any](c *Snapshots, key string) (T, time.Duration, bool) {
	var zero T
	v, age, ok := c.Get(key)
	if !ok {
		return zero, 0, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, 0, false
	}
	return t, age, true
}
