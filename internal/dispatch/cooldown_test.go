package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock provides a controllable time source for cache tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestCooldownCache_SuppressionWindow(t *testing.T) {
	clock := newFakeClock()
	cache := NewCooldownCache(CooldownConfig{Period: 60 * time.Second, MaxEntries: 100})
	cache.now = clock.now

	// Never marked: allowed.
	assert.True(t, cache.ShouldSend("dest|GET /api"))

	// E1 sends at t=0.
	cache.MarkSent("dest|GET /api")

	// E2 at t=10s is suppressed.
	clock.advance(10 * time.Second)
	assert.False(t, cache.ShouldSend("dest|GET /api"))

	// E3 at t=61s is allowed again.
	clock.advance(51 * time.Second)
	assert.True(t, cache.ShouldSend("dest|GET /api"))
}

func TestCooldownCache_IndependentKeys(t *testing.T) {
	cache := NewCooldownCache(CooldownConfig{Period: time.Minute, MaxEntries: 100})

	cache.MarkSent("dest|GET /a")

	assert.False(t, cache.ShouldSend("dest|GET /a"))
	assert.True(t, cache.ShouldSend("dest|GET /b"))
	assert.True(t, cache.ShouldSend("other|GET /a"))
}

func TestCooldownCache_RemainingCooldown(t *testing.T) {
	clock := newFakeClock()
	cache := NewCooldownCache(CooldownConfig{Period: 60 * time.Second, MaxEntries: 100})
	cache.now = clock.now

	_, ok := cache.RemainingCooldown("key")
	assert.False(t, ok)

	cache.MarkSent("key")
	clock.advance(15 * time.Second)

	remaining, ok := cache.RemainingCooldown("key")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, remaining)

	clock.advance(46 * time.Second)
	_, ok = cache.RemainingCooldown("key")
	assert.False(t, ok)
}

func TestCooldownCache_EvictsOldestAtCapacity(t *testing.T) {
	clock := newFakeClock()
	cache := NewCooldownCache(CooldownConfig{Period: time.Hour, MaxEntries: 3})
	cache.now = clock.now

	for i := 0; i < 5; i++ {
		cache.MarkSent(fmt.Sprintf("key-%d", i))
		clock.advance(time.Second)
	}

	assert.Equal(t, 3, cache.Len())

	// The two oldest entries were evicted, so they are sendable again.
	assert.True(t, cache.ShouldSend("key-0"))
	assert.True(t, cache.ShouldSend("key-1"))

	// The newest three are still tracked and suppressed.
	assert.False(t, cache.ShouldSend("key-2"))
	assert.False(t, cache.ShouldSend("key-3"))
	assert.False(t, cache.ShouldSend("key-4"))
}

func TestDefaultCooldownConfig(t *testing.T) {
	config := DefaultCooldownConfig()

	assert.Equal(t, 5*time.Minute, config.Period)
	assert.Equal(t, 1000, config.MaxEntries)
}
