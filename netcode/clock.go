package netcode

import (
	"math"
	"time"
)

// ServerClock 根据快照到达时间估计“此刻”的服务端 Tick（可带小数）。
// 偏移量做指数平滑以吸收抖动；偏差超过 snapTicks 时直接跳变。
type ServerClock struct {
	tickRate  float64
	origin    time.Time
	offset    float64
	has       bool
	smoothing float64
	snapTicks float64
}

func NewServerClock(tickRateHz int, origin time.Time) *ServerClock {
	return &ServerClock{
		tickRate:  float64(tickRateHz),
		origin:    origin,
		smoothing: 0.1,
		snapTicks: 4,
	}
}

func (c *ServerClock) local(at time.Time) float64 {
	return at.Sub(c.origin).Seconds() * c.tickRate
}

// Observe 记录 tick 在本地时刻 at 到达
func (c *ServerClock) Observe(tick uint32, at time.Time) {
	est := float64(tick) - c.local(at)
	if !c.has || math.Abs(est-c.offset) > c.snapTicks {
		c.offset = est
		c.has = true
		return
	}
	c.offset += (est - c.offset) * c.smoothing
}

// Now 估计本地时刻 at 对应的服务端 Tick；未观测过时 ok 为 false
func (c *ServerClock) Now(at time.Time) (float64, bool) {
	if !c.has {
		return 0, false
	}
	return c.local(at) + c.offset, true
}

// Reset 丢弃所有观测
func (c *ServerClock) Reset() {
	c.offset = 0
	c.has = false
}
