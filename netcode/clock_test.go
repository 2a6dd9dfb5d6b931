package netcode_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenasync/netcode"
)

func TestServerClock(t *testing.T) {
	origin := time.Unix(0, 0)
	c := netcode.NewServerClock(20, origin)

	_, ok := c.Now(origin)
	assert.False(t, ok)

	c.Observe(100, origin.Add(time.Second))
	now, ok := c.Now(origin.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 100.0, now, 1e-9)

	// 1 秒后推进 20 Tick
	now, _ = c.Now(origin.Add(2 * time.Second))
	assert.InDelta(t, 120.0, now, 1e-9)

	t.Run("jitter is smoothed", func(t *testing.T) {
		// 晚到 1 Tick 的快照只移动 10%
		c.Observe(120, origin.Add(2*time.Second+50*time.Millisecond))
		now, _ := c.Now(origin.Add(2 * time.Second))
		assert.InDelta(t, 119.9, now, 1e-9)
	})

	t.Run("large gap snaps", func(t *testing.T) {
		c.Observe(500, origin.Add(3*time.Second))
		now, _ := c.Now(origin.Add(3 * time.Second))
		assert.InDelta(t, 500.0, now, 1e-9)
	})

	c.Reset()
	_, ok = c.Now(origin)
	assert.False(t, ok)
}
