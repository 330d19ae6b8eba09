package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestRateLimiterBurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rl := newRateLimiterWithClock(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second}, clock.Now)

	for i := range 3 {
		require.True(t, rl.allow(), "token %d", i)
	}
	require.False(t, rl.allow())

	clock.Advance(time.Second)
	require.True(t, rl.allow())
	require.False(t, rl.allow())

	clock.Advance(time.Hour)
	for range 3 {
		require.True(t, rl.allow())
	}
	require.False(t, rl.allow(), "refill is capped at the burst size")
}

func TestRateLimiterInvalidConfigFallsBack(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rl := newRateLimiterWithClock(RateLimitConfig{}, clock.Now)

	require.True(t, rl.allow())
	require.False(t, rl.allow())

	clock.Advance(time.Second)
	require.True(t, rl.allow())
}
