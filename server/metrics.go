package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	InputsAccepted    int64 // 被处理的输入命令数
	InputsCarried     int64 // 超出每 Tick 上限、顺延到下一 Tick 的命令数
	RateLimited       int64 // 因令牌桶限流被拒绝的 INPUT 消息数
	OldSeqIgnored     int64 // 因旧序列或重复被忽略的命令数
	DropsSimulated    int64 // 因模拟丢包未发出的快照数
	ChanFullDiscarded int64 // 因通道或队列满被丢弃的消息数
	SnapshotsSent     int64
	ClaimsAccepted    int64
	ClaimsRejected    int64
	TotalTickNs       int64 // Tick 累计耗时（纳秒）

	prom *roomCollectors
}

func (m *RoomMetrics) IncAccepted() {
	atomic.AddInt64(&m.InputsAccepted, 1)
	m.prom.incInput("accepted")
}

func (m *RoomMetrics) IncCarried() {
	atomic.AddInt64(&m.InputsCarried, 1)
	m.prom.incInput("carried")
}

func (m *RoomMetrics) IncRateLimited() {
	atomic.AddInt64(&m.RateLimited, 1)
	m.prom.incInput("rate_limited")
}

func (m *RoomMetrics) IncOldSeqIgnored() {
	atomic.AddInt64(&m.OldSeqIgnored, 1)
	m.prom.incInput("old_seq")
}

func (m *RoomMetrics) IncDropsSimulated() {
	atomic.AddInt64(&m.DropsSimulated, 1)
	m.prom.incSnapshot("dropped")
}

func (m *RoomMetrics) IncChanFullDiscarded() {
	atomic.AddInt64(&m.ChanFullDiscarded, 1)
	m.prom.incInput("chan_full")
}

func (m *RoomMetrics) IncSnapshotsSent() {
	atomic.AddInt64(&m.SnapshotsSent, 1)
	m.prom.incSnapshot("sent")
}

func (m *RoomMetrics) IncClaim(accepted bool) {
	if accepted {
		atomic.AddInt64(&m.ClaimsAccepted, 1)
		m.prom.incClaim("accepted")
		return
	}
	atomic.AddInt64(&m.ClaimsRejected, 1)
	m.prom.incClaim("rejected")
}

func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
	if m.prom != nil {
		m.prom.tickSeconds.Observe(float64(ns) / 1e9)
	}
}

// SetPlayers 更新在线人数
func (m *RoomMetrics) SetPlayers(n int) {
	if m.prom != nil {
		m.prom.players.Set(float64(n))
	}
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"inputs_accepted":     atomic.LoadInt64(&m.InputsAccepted),
		"inputs_carried":      atomic.LoadInt64(&m.InputsCarried),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"old_seq_ignored":     atomic.LoadInt64(&m.OldSeqIgnored),
		"drops_simulated":     atomic.LoadInt64(&m.DropsSimulated),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"snapshots_sent":      atomic.LoadInt64(&m.SnapshotsSent),
		"claims_accepted":     atomic.LoadInt64(&m.ClaimsAccepted),
		"claims_rejected":     atomic.LoadInt64(&m.ClaimsRejected),
		"avg_tick_ms":         avgMs,
	}
}

// Collectors 每个 Server 一组 prometheus 指标，按房间打标签
type Collectors struct {
	inputs      *prometheus.CounterVec
	snapshots   *prometheus.CounterVec
	claims      *prometheus.CounterVec
	tickSeconds *prometheus.HistogramVec
	players     *prometheus.GaugeVec
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		inputs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arenasync_inputs_total",
			Help: "Input commands by outcome",
		}, []string{"room", "outcome"}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arenasync_snapshots_total",
			Help: "Outbound snapshots by outcome",
		}, []string{"room", "outcome"}),
		claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arenasync_hit_claims_total",
			Help: "Hit claim verdicts",
		}, []string{"room", "verdict"}),
		tickSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arenasync_tick_duration_seconds",
			Help:    "Room tick processing time",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
		}, []string{"room"}),
		players: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arenasync_room_players",
			Help: "Connected players per room",
		}, []string{"room"}),
	}
}

// roomCollectors 绑定房间标签后的视图，nil 时所有操作为空
type roomCollectors struct {
	room        string
	inputs      *prometheus.CounterVec
	snapshots   *prometheus.CounterVec
	claims      *prometheus.CounterVec
	tickSeconds prometheus.Observer
	players     prometheus.Gauge
}

func (c *Collectors) forRoom(room string) *roomCollectors {
	if c == nil {
		return nil
	}
	return &roomCollectors{
		room:        room,
		inputs:      c.inputs,
		snapshots:   c.snapshots,
		claims:      c.claims,
		tickSeconds: c.tickSeconds.WithLabelValues(room),
		players:     c.players.WithLabelValues(room),
	}
}

func (rc *roomCollectors) incInput(outcome string) {
	if rc != nil {
		rc.inputs.WithLabelValues(rc.room, outcome).Inc()
	}
}

func (rc *roomCollectors) incSnapshot(outcome string) {
	if rc != nil {
		rc.snapshots.WithLabelValues(rc.room, outcome).Inc()
	}
}

func (rc *roomCollectors) incClaim(verdict string) {
	if rc != nil {
		rc.claims.WithLabelValues(rc.room, verdict).Inc()
	}
}
