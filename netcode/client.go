package netcode

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats 诊断计数
type Stats struct {
	Pending               int
	HistoryLen            int
	LastTick              uint32
	Recorded              uint64
	Acknowledged          uint64
	Replayed              uint64
	Reconciliations       uint64
	StaleDropped          uint64
	OutOfOrderInserted    uint64
	DesyncWarnings        uint64
	ProtocolViolations    uint64
	ConsecutiveViolations int
}

// Client 是客户端的网络核心：模拟/渲染循环与网络接收路径共享它。
// 输入队列、快照历史与预测状态由同一把锁保护，所有方法都不阻塞。
type Client struct {
	mu sync.Mutex

	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	local   EntityID
	initial EntityState

	inputs     *InputSequencer
	predictor  Predictor
	history    *History
	reconciler *Reconciler
	interp     *Interpolator
	lagcomp    *LagCompensator
	clock      *ServerClock

	clientTick uint32
	stats      Stats
}

// Option 配置 Client
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithNow 替换时间源（测试用）
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient 组装网络核心。initial 为首个快照到达前的本地状态。
func NewClient(cfg Config, local EntityID, initial EntityState, stepper Stepper, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stepper == nil {
		return nil, errors.New("netcode: nil stepper")
	}
	c := &Client{
		cfg:     cfg,
		log:     zap.NewNop(),
		now:     time.Now,
		local:   local,
		initial: initial,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("entity", string(local)))
	c.inputs = NewInputSequencer(cfg.MaxPendingInputs, cfg.InputBufferCapacity)
	c.predictor = NewPredictor(stepper)
	c.history = NewHistory(cfg.HistoryCapacity)
	c.reconciler = NewReconciler(local, c.inputs, c.predictor, c.log)
	c.reconciler.SetPredicted(initial)
	c.interp = NewInterpolator(c.history, cfg)
	c.lagcomp = NewLagCompensator(c.history)
	c.clock = NewServerClock(cfg.TickRateHz, c.now())
	return c, nil
}

// Local 本地预测实体
func (c *Client) Local() EntityID { return c.local }

// ApplyInput 记录一次控制采样并立即推进本地预测。
// 返回 DesyncRisk 时命令已生效；返回 InputBufferFull 时命令被拒绝，状态不变。
func (c *Client) ApplyInput(payload Payload) (InputCommand, EntityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := c.inputs.Record(c.clientTick, payload)
	if errors.Is(err, ErrInputBufferFull) {
		c.stats.DesyncWarnings++
		return InputCommand{}, c.reconciler.Predicted(), err
	}
	if err != nil {
		c.stats.DesyncWarnings++
		c.log.Debug("input backlog above threshold", zap.Int("pending", c.inputs.Len()))
	}
	c.clientTick++
	c.stats.Recorded++
	st := c.predictor.ApplyLocally(c.reconciler.Predicted(), cmd)
	c.reconciler.SetPredicted(st)
	return cmd, st, err
}

// OnSnapshot 接收路径：写入历史并触发校正。
// 过期快照仍可能按 Tick 插入历史供插值使用，但不会回退校正。
func (c *Client) OnSnapshot(snap Snapshot) (ReconciliationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome, herr := c.history.Add(snap)
	if herr == nil && outcome == Inserted {
		c.stats.OutOfOrderInserted++
	}

	res, err := c.reconciler.Reconcile(snap)
	switch {
	case errors.Is(err, ErrStaleSnapshot):
		c.stats.StaleDropped++
		return res, err
	case errors.Is(err, ErrProtocolViolation):
		c.stats.ProtocolViolations++
		c.stats.ConsecutiveViolations++
	default:
		c.stats.ConsecutiveViolations = 0
	}
	c.clock.Observe(snap.Tick, c.now())
	c.stats.Reconciliations++
	c.stats.Acknowledged += uint64(res.Acknowledged)
	c.stats.Replayed += uint64(res.Replayed)
	c.stats.LastTick = snap.Tick
	return res, err
}

// Predicted 当前本地预测状态
func (c *Client) Predicted() EntityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciler.Predicted()
}

// RedundantInputs 最近 n 个未确认输入，用于在不可靠通道上冗余发送
func (c *Client) RedundantInputs(n int) []InputCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.Tail(n)
}

// RenderTime 按估计的服务端时间减去缓冲延迟
func (c *Client) RenderTime() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderTimeLocked()
}

func (c *Client) renderTimeLocked() (float64, bool) {
	now, ok := c.clock.Now(c.now())
	if !ok {
		return 0, false
	}
	return c.interp.RenderTime(now), true
}

// Sample 在 renderTime 采样单个远端实体
func (c *Client) Sample(id EntityID, renderTime float64) (EntityState, SampleMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interp.Sample(id, renderTime)
}

// SampleRemote 以当前渲染时间采样所有远端实体
func (c *Client) SampleRemote() (map[EntityID]EntityState, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.renderTimeLocked()
	if !ok {
		return nil, 0, false
	}
	return c.interp.SampleAll(rt, c.local), rt, true
}

// ReconstructAt 在本地历史上重建 observationTime 的世界
func (c *Client) ReconstructAt(observationTime float64) (map[EntityID]EntityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lagcomp.ReconstructAt(observationTime)
}

// OnDisconnect 清空所有待处理状态，回到初始状态
func (c *Client) OnDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs.Reset()
	c.history.Reset()
	c.reconciler.Reset()
	c.reconciler.SetPredicted(c.initial)
	c.clock.Reset()
	c.clientTick = 0
	c.stats = Stats{}
	c.log.Info("netcode state reset on disconnect")
}

// Stats 诊断计数的副本
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = c.inputs.Len()
	s.HistoryLen = c.history.Len()
	return s
}
