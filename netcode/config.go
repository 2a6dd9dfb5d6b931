package netcode

import (
	"fmt"
	"time"
)

// Config 网络核心的可调参数
type Config struct {
	TickRateHz int

	// HistoryCapacity 保留的快照个数，同时限定延迟补偿能回溯多远
	HistoryCapacity int
	// InterpolationDelay 渲染时间相对最新 Tick 的缓冲偏移
	InterpolationDelay time.Duration
	// MaxExtrapolationHorizon 超过最新快照后允许外推的最长时间
	MaxExtrapolationHorizon time.Duration
	// MaxPendingInputs 待确认输入的背压阈值，超过即报告 DesyncRisk
	MaxPendingInputs int
	// InputBufferCapacity 输入环的硬容量，满则拒绝记录
	InputBufferCapacity int
}

// DefaultConfig 20 TPS 下的常用取值
func DefaultConfig() Config {
	return Config{
		TickRateHz:              20,
		HistoryCapacity:         64,
		InterpolationDelay:      100 * time.Millisecond,
		MaxExtrapolationHorizon: 250 * time.Millisecond,
		MaxPendingInputs:        64,
		InputBufferCapacity:     256,
	}
}

// maxSeqWindow 序列号环绕比较的有效窗口（半个 uint16 空间）
const maxSeqWindow = 1 << 15

func (c Config) Validate() error {
	if c.TickRateHz <= 0 {
		return fmt.Errorf("netcode: tick rate must be positive, got %d", c.TickRateHz)
	}
	if c.HistoryCapacity < 2 {
		return fmt.Errorf("netcode: history capacity must be at least 2, got %d", c.HistoryCapacity)
	}
	if c.InterpolationDelay < 0 || c.MaxExtrapolationHorizon < 0 {
		return fmt.Errorf("netcode: delays must not be negative")
	}
	if c.MaxPendingInputs <= 0 {
		return fmt.Errorf("netcode: max pending inputs must be positive, got %d", c.MaxPendingInputs)
	}
	if c.InputBufferCapacity < c.MaxPendingInputs {
		return fmt.Errorf("netcode: input buffer capacity %d below max pending inputs %d", c.InputBufferCapacity, c.MaxPendingInputs)
	}
	if c.InputBufferCapacity >= maxSeqWindow {
		return fmt.Errorf("netcode: input buffer capacity %d must stay below %d", c.InputBufferCapacity, maxSeqWindow)
	}
	return nil
}

// TicksFor 把时长换算为（可带小数的）Tick 数
func (c Config) TicksFor(d time.Duration) float64 {
	return d.Seconds() * float64(c.TickRateHz)
}
