package dispatch

import (
	"sync"
	"time"
)

// CooldownConfig contains cooldown cache configuration.
type CooldownConfig struct {
	Period     time.Duration
	MaxEntries int
}

// DefaultCooldownConfig returns default cooldown configuration.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Period:     5 * time.Minute,
		MaxEntries: 1000,
	}
}

// CooldownCache suppresses repeated notifications for the same dedup key
// within a configured window. Pure in-memory bookkeeping; entries are
// evicted oldest-first once the capacity limit is exceeded.
type CooldownCache struct {
	mu      sync.Mutex
	config  CooldownConfig
	entries map[string]time.Time

	now func() time.Time
}

// NewCooldownCache creates a new cooldown cache.
func NewCooldownCache(config CooldownConfig) *CooldownCache {
	return &CooldownCache{
		config:  config,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// ShouldSend reports whether a notification for key is allowed to fire now:
// true if the key was never marked, or the cooldown period has elapsed.
func (c *CooldownCache) ShouldSend(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSentAt, ok := c.entries[key]
	if !ok {
		return true
	}
	return c.now().Sub(lastSentAt) >= c.config.Period
}

// MarkSent records a successful send for key. The capacity bound is
// enforced lazily here: once the entry count exceeds the limit, the oldest
// entries (by last-sent time) are evicted until back under it.
func (c *CooldownCache) MarkSent(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = c.now()

	for len(c.entries) > c.config.MaxEntries {
		c.evictOldestLocked()
	}
}

// RemainingCooldown returns how long key is still suppressed for, and false
// if the key is not in cooldown.
func (c *CooldownCache) RemainingCooldown(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSentAt, ok := c.entries[key]
	if !ok {
		return 0, false
	}

	remaining := c.config.Period - c.now().Sub(lastSentAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Len returns the number of tracked keys.
func (c *CooldownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CooldownCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, at := range c.entries {
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey = key
			oldestAt = at
		}
	}
	delete(c.entries, oldestKey)
}
