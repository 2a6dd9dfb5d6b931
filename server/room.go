package server

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arenasync/config"
	"arenasync/netcode"
	"arenasync/protocol"
	"arenasync/sim"
	"arenasync/store"
)

// VerdictSink 命中判定的审计出口
type VerdictSink interface {
	Record(v store.Verdict)
}

// Settings 可在运行期热更新的房间规则
type Settings struct {
	Step               float64 `json:"step"`
	MaxInputsPerTick   int     `json:"maxInputsPerTick"`
	SimulateDelayMinMs int     `json:"simulateDelayMinMs"`
	SimulateDelayMaxMs int     `json:"simulateDelayMaxMs"`
	SimulateDropProb   float64 `json:"simulateDropProb"`
	HitRadius          float64 `json:"hitRadius"`
}

func (s Settings) validate() error {
	if s.Step <= 0 {
		return fmt.Errorf("step must be positive")
	}
	if s.MaxInputsPerTick <= 0 {
		return fmt.Errorf("maxInputsPerTick must be positive")
	}
	if s.SimulateDelayMinMs < 0 || s.SimulateDelayMaxMs < s.SimulateDelayMinMs {
		return fmt.Errorf("invalid delay range [%d,%d]", s.SimulateDelayMinMs, s.SimulateDelayMaxMs)
	}
	if s.SimulateDropProb < 0 || s.SimulateDropProb > 1 {
		return fmt.Errorf("simulateDropProb outside [0,1]")
	}
	if s.HitRadius < 0 {
		return fmt.Errorf("hitRadius must not be negative")
	}
	return nil
}

type leaveReq struct {
	id   PlayerID
	conn *ClientConn
}

// Room 房间世界：权威状态维护在内存，单线程 Tick 推进
type Room struct {
	ID string

	log        *zap.Logger
	world      sim.World
	netcfg     netcode.Config
	redundancy int
	verdicts   VerdictSink
	metrics    *RoomMetrics

	players   map[PlayerID]*Player
	joinChan  chan *Player
	inputChan chan Input
	claimChan chan HitClaim
	leaveChan chan leaveReq

	// 服务端快照历史，用于延迟补偿
	history *netcode.History
	lagcomp *netcode.LagCompensator

	tick atomic.Uint32
	rng  *rand.Rand
	// after 调度延迟发送（测试可替换）
	after func(d time.Duration, f func())

	settingsMu sync.RWMutex
	settings   Settings

	tickerStarted atomic.Bool
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, cfg config.Config, log *zap.Logger, collectors *Collectors, verdicts VerdictSink) *Room {
	if log == nil {
		log = zap.NewNop()
	}
	history := netcode.NewHistory(cfg.Netcode.HistoryCapacity)
	r := &Room{
		ID:         id,
		log:        log.With(zap.String("room", id)),
		world:      cfg.World.Sim(),
		netcfg:     cfg.NetcodeFor(),
		redundancy: cfg.Netcode.InputRedundancy,
		verdicts:   verdicts,
		metrics:    &RoomMetrics{prom: collectors.forRoom(id)},
		players:    make(map[PlayerID]*Player),
		joinChan:   make(chan *Player, 64),
		inputChan:  make(chan Input, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		claimChan:  make(chan HitClaim, 64),
		leaveChan:  make(chan leaveReq, 64),
		history:    history,
		lagcomp:    netcode.NewLagCompensator(history),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		after:      func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		settings: Settings{
			Step:               cfg.World.Step,
			MaxInputsPerTick:   cfg.Server.MaxInputsPerTick,
			SimulateDelayMinMs: cfg.Impairment.DelayMinMs,
			SimulateDelayMaxMs: cfg.Impairment.DelayMaxMs,
			SimulateDropProb:   cfg.Impairment.DropProb,
			HitRadius:          cfg.Server.HitRadius,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	return r
}

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// CurrentTick 最近一次完成的 Tick
func (r *Room) CurrentTick() uint32 { return r.tick.Load() }

func (r *Room) Settings() Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// UpdateSettings 校验后整体替换
func (r *Room) UpdateSettings(s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.settingsMu.Lock()
	r.settings = s
	r.settingsMu.Unlock()
	r.log.Info("config updated",
		zap.Float64("step", s.Step),
		zap.Int("maxInputsPerTick", s.MaxInputsPerTick),
		zap.Int("delayMinMs", s.SimulateDelayMinMs),
		zap.Int("delayMaxMs", s.SimulateDelayMaxMs),
		zap.Float64("dropProb", s.SimulateDropProb),
		zap.Float64("hitRadius", s.HitRadius),
	)
	return nil
}

// World 当前生效的世界参数
func (r *Room) World() sim.World {
	w := r.world
	w.Step = r.Settings().Step
	return w
}

// Welcome 为新连接生成握手应答
func (r *Room) Welcome(p *Player) protocol.WelcomeMsg {
	w := r.World()
	spawn := w.Spawn()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       p.Session,
		PlayerID:        string(p.ID),
		EntityID:        string(p.ID),
		Tick:            r.CurrentTick(),
		World: protocol.WorldParams{
			TickRateHz: r.netcfg.TickRateHz,
			Width:      w.Width,
			Height:     w.Height,
			Step:       w.Step,
			Spawn:      protocol.Vec2{X: spawn.X, Y: spawn.Y},
		},
		Netcode: protocol.NetcodeParamsFrom(r.netcfg, r.redundancy),
	}
}

// NewPlayer 以当前出生点构造玩家，需随后调用 JoinPlayer
func (r *Room) NewPlayer(id PlayerID, session string, conn *ClientConn) *Player {
	return newPlayer(id, session, r.World().Spawn(), conn, r.netcfg.InputBufferCapacity)
}

// JoinPlayer 请求在 Tick 线程中加入玩家；同 ID 的旧连接会被替换。房间已停止时返回 false
func (r *Room) JoinPlayer(p *Player) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.joinChan <- p:
		return true
	case <-r.stop:
		return false
	}
}

// RequestLeave 请求在 Tick 线程中移除玩家，避免并发改动房间状态。
// 只移除仍绑定在 conn 上的玩家，重连后的新会话不受影响。
func (r *Room) RequestLeave(pid PlayerID, conn *ClientConn) {
	// 为保证移除一定生效，这里采用阻塞式写入；房间停止后直接返回
	select {
	case r.leaveChan <- leaveReq{id: pid, conn: conn}:
	case <-r.stop:
	}
}

// OnInput 入站输入（不立即改变位置），仅记录意图，等下一次 Tick 处理
func (r *Room) OnInput(in Input) {
	// 不阻塞：输入拥塞时丢弃，保证 Tick 准时；冗余发送会补上
	select {
	case r.inputChan <- in:
	default:
		r.metrics.IncChanFullDiscarded()
	}
}

// OnClaim 入站命中声明，在 Tick 线程中判定
func (r *Room) OnClaim(c HitClaim) bool {
	select {
	case r.claimChan <- c:
		return true
	default:
		r.metrics.IncChanFullDiscarded()
		return false
	}
}

// Tick 推进一帧：成员变更 → 处理输入 → 更新世界 → 记录历史 → 命中判定 → 广播
func (r *Room) Tick() {
	start := time.Now()
	s := r.Settings()
	tick := r.BeginTick()
	r.ProcessMembership()
	r.ProcessInputs(s)
	r.UpdateWorld()
	snap := r.RecordHistory(tick)
	r.ProcessClaims(tick, s)
	r.BroadcastDelta(snap, s)
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}

// BeginTick 递增 Tick 序号
func (r *Room) BeginTick() uint32 {
	return r.tick.Add(1)
}

// ProcessMembership 处理加入与离开（非阻塞 drain）
func (r *Room) ProcessMembership() {
	for {
		select {
		case p := <-r.joinChan:
			if old, ok := r.players[p.ID]; ok && old.Conn != nil && old.Conn != p.Conn {
				old.Conn.Close()
			}
			r.players[p.ID] = p
			r.log.Info("player joined", zap.String("player", string(p.ID)), zap.String("session", p.Session))
		case req := <-r.leaveChan:
			p, ok := r.players[req.id]
			if !ok || (req.conn != nil && p.Conn != req.conn) {
				continue
			}
			if p.Conn != nil {
				p.Conn.Close()
			}
			delete(r.players, req.id)
			r.log.Info("player left", zap.String("player", string(req.id)))
		default:
			r.metrics.SetPlayers(len(r.players))
			return
		}
	}
}

// ProcessInputs 合并本帧收到的命令，并按序号为每个玩家处理至多 MaxInputsPerTick 个
func (r *Room) ProcessInputs(s Settings) {
	for drained := false; !drained; {
		select {
		case in := <-r.inputChan:
			p, ok := r.players[in.PlayerID]
			if !ok {
				continue
			}
			res := p.enqueue(in.Commands)
			for i := 0; i < res.old; i++ {
				r.metrics.IncOldSeqIgnored()
			}
			for i := 0; i < res.overflow; i++ {
				r.metrics.IncChanFullDiscarded()
			}
		default:
			drained = true
		}
	}

	w := r.world
	w.Step = s.Step
	for _, p := range r.players {
		for _, cmd := range p.take(s.MaxInputsPerTick) {
			p.Body = w.Advance(p.Body, cmd).(sim.Body)
			p.markProcessed(cmd.Seq)
			r.metrics.IncAccepted()
		}
		for range p.pending {
			r.metrics.IncCarried()
		}
	}
}

// UpdateWorld 推进世界其他状态（本例中位置由输入驱动，世界无持续速度）
func (r *Room) UpdateWorld() {}

// RecordHistory 把本帧权威状态写入快照历史
func (r *Room) RecordHistory(tick uint32) netcode.Snapshot {
	ents := make(map[netcode.EntityID]netcode.EntityState, len(r.players))
	for id, p := range r.players {
		ents[netcode.EntityID(id)] = p.Body
	}
	snap := netcode.Snapshot{Tick: tick, Entities: ents}
	if _, err := r.history.Add(snap); err != nil {
		r.log.Warn("history add", zap.Uint32("tick", tick), zap.Error(err))
	}
	return snap
}

// ProcessClaims 在历史上回溯到声明者的观测时间进行命中判定
func (r *Room) ProcessClaims(tick uint32, s Settings) {
	for {
		select {
		case c := <-r.claimChan:
			p, ok := r.players[c.PlayerID]
			if !ok {
				continue
			}
			msg, v := r.judge(p, c.Msg, tick, s.HitRadius)
			r.metrics.IncClaim(msg.Accepted)
			if r.verdicts != nil {
				r.verdicts.Record(v)
			}
			if p.Conn != nil && !p.Conn.SendMsg(msg) {
				r.metrics.IncChanFullDiscarded()
			}
		default:
			return
		}
	}
}

func (r *Room) judge(p *Player, claim protocol.HitClaimMsg, tick uint32, radius float64) (protocol.HitVerdictMsg, store.Verdict) {
	msg := protocol.HitVerdictMsg{Type: protocol.TypeHitVerdict, ClaimID: claim.ClaimID, Tick: tick}
	v := store.Verdict{
		ClaimID:         claim.ClaimID,
		PlayerID:        string(p.ID),
		Target:          claim.Target,
		ObservationTick: claim.ObservationTick,
		ServerTick:      tick,
		At:              time.Now().UTC(),
	}
	reject := func(code, message string) (protocol.HitVerdictMsg, store.Verdict) {
		msg.Code, msg.Message = code, message
		v.Code = code
		r.log.Debug("hit claim rejected",
			zap.String("player", string(p.ID)),
			zap.String("claim", claim.ClaimID),
			zap.String("code", code),
			zap.Float64("observation", claim.ObservationTick),
		)
		return msg, v
	}

	switch {
	case claim.ClaimID == "":
		return reject(protocol.ErrProtoBadRequest, "claim_id required")
	case p.seenClaim(claim.ClaimID):
		return reject(protocol.ErrDuplicateClaim, "claim already judged")
	case claim.Target == "" || PlayerID(claim.Target) == p.ID:
		return reject(protocol.ErrInvalidTarget, "invalid target")
	}
	st, err := r.lagcomp.ReconstructEntity(netcode.EntityID(claim.Target), claim.ObservationTick)
	if err != nil {
		return reject(protocol.CodeFor(err), err.Error())
	}
	body, _ := st.(sim.Body)
	v.Distance = math.Hypot(body.X-claim.X, body.Y-claim.Y)
	if v.Distance > radius {
		return reject(protocol.ErrOutOfRange, fmt.Sprintf("target %.2f away at observation time", v.Distance))
	}
	msg.Accepted = true
	v.Accepted = true
	return msg, v
}

// BroadcastDelta 为每个玩家附上各自的输入确认并经模拟链路发送快照
func (r *Room) BroadcastDelta(snap netcode.Snapshot, s Settings) {
	base := protocol.SnapshotToWire(snap)
	for _, p := range r.players {
		if p.Conn == nil {
			continue
		}
		msg := base
		msg.LastProcessedInputSeq = uint16(p.lastProcessed)
		msg.HasAck = p.hasProcessed
		b, err := p.Conn.Encode(msg)
		if err != nil {
			r.log.Error("encode snapshot", zap.String("player", string(p.ID)), zap.Error(err))
			continue
		}
		r.sendUnreliable(p.Conn, b, s)
	}
}

// sendUnreliable 按配置模拟丢包与随机延迟，随机延迟自然造成乱序
func (r *Room) sendUnreliable(c *ClientConn, b []byte, s Settings) {
	if s.SimulateDropProb > 0 && r.rng.Float64() < s.SimulateDropProb {
		r.metrics.IncDropsSimulated()
		return
	}
	delay := s.SimulateDelayMinMs
	if span := s.SimulateDelayMaxMs - s.SimulateDelayMinMs; span > 0 {
		delay += r.rng.Intn(span + 1)
	}
	if delay <= 0 {
		r.deliver(c, b)
		return
	}
	r.after(time.Duration(delay)*time.Millisecond, func() { r.deliver(c, b) })
}

func (r *Room) deliver(c *ClientConn, b []byte) {
	if c.Enqueue(b) {
		r.metrics.IncSnapshotsSent()
		return
	}
	r.metrics.IncChanFullDiscarded()
}
