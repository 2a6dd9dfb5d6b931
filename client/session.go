package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arenasync/netcode"
	"arenasync/protocol"
	"arenasync/recording"
	"arenasync/sim"
)

// ErrTooManyViolations 连续协议违规达到上限，会话已重置并断开
var ErrTooManyViolations = errors.New("client: too many consecutive protocol violations")

// Options 机器人会话参数
type Options struct {
	InputHz  int
	Duration time.Duration
	// HitEvery 每 N 个输入发一次命中声明，0 为关闭
	HitEvery      int
	MaxViolations int
	// Pattern 第 i 个输入的方向，nil 时绕出生点走小方块
	Pattern func(i int) sim.Direction
}

var squarePattern = []sim.Direction{
	sim.DirRight, sim.DirRight, sim.DirDown, sim.DirDown,
	sim.DirLeft, sim.DirLeft, sim.DirUp, sim.DirUp,
}

func defaultPattern(i int) sim.Direction { return squarePattern[i%len(squarePattern)] }

// Summary 会话结束时的统计
type Summary struct {
	Core          netcode.Stats  `json:"core"`
	Sent          int            `json:"sent"`
	Snapshots     int            `json:"snapshots"`
	Corrections   int            `json:"corrections"`
	Claims        int            `json:"claims"`
	ClaimsSkipped int            `json:"claims_skipped"`
	Accepted      int            `json:"accepted"`
	Rejected      map[string]int `json:"rejected,omitempty"`
	ServerErrors  int            `json:"server_errors"`
	Final         sim.Body       `json:"final"`
}

// Session 一个连接上的网络核心与收发循环
type Session struct {
	log        *zap.Logger
	tr         *WSTransport
	welcome    protocol.WelcomeMsg
	core       *netcode.Client
	redundancy int

	// mu 保证录制顺序与核心上的执行顺序一致
	mu      sync.Mutex
	rec     *recording.Writer
	summary Summary
}

// Connect 握手并按 WELCOME 中的参数构建网络核心。recordPath 非空时录制会话。
func Connect(ctx context.Context, url string, hello protocol.HelloMsg, recordPath string, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tr, welcome, err := Dial(ctx, url, hello)
	if err != nil {
		return nil, err
	}
	w := welcome.World
	world := sim.World{Width: w.Width, Height: w.Height, Step: w.Step}
	spawn := sim.Body{X: w.Spawn.X, Y: w.Spawn.Y}
	log = log.With(zap.String("player", welcome.PlayerID), zap.String("session", welcome.SessionID))
	core, err := netcode.NewClient(welcome.Netcode.Config(w.TickRateHz), netcode.EntityID(welcome.EntityID), spawn, world.Stepper(),
		netcode.WithLogger(log))
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s := &Session{
		log:        log,
		tr:         tr,
		welcome:    welcome,
		core:       core,
		redundancy: welcome.Netcode.InputRedundancy,
		summary:    Summary{Rejected: map[string]int{}},
	}
	if recordPath != "" {
		rec, err := recording.Create(recordPath)
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
		s.rec = rec
		s.record(recording.Entry{Kind: recording.KindHeader, Header: &recording.Header{
			PlayerID: welcome.PlayerID,
			EntityID: welcome.EntityID,
			Codec:    tr.Codec().Name(),
			World:    welcome.World,
			Netcode:  welcome.Netcode,
		}})
	}
	return s, nil
}

func (s *Session) Welcome() protocol.WelcomeMsg { return s.welcome }

func (s *Session) Core() *netcode.Client { return s.core }

func (s *Session) record(e recording.Entry) {
	if s.rec == nil {
		return
	}
	if err := s.rec.Write(e); err != nil {
		s.log.Warn("record", zap.Error(err))
	}
}

// Run 以 InputHz 采样输入并发送，直到 Duration 到期、ctx 结束或连接断开
func (s *Session) Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.InputHz <= 0 {
		opts.InputHz = 30
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultPattern
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	violations := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(opts.MaxViolations, violations) }()

	ticker := time.NewTicker(time.Second / time.Duration(opts.InputHz))
	defer ticker.Stop()

	var runErr error
loop:
	for i := 0; ; {
		select {
		case <-ctx.Done():
			break loop
		case err := <-readErr:
			runErr = err
			readErr = nil
			break loop
		case <-violations:
			runErr = ErrTooManyViolations
			break loop
		case <-ticker.C:
			if err := s.sendInput(opts.Pattern(i)); err != nil {
				runErr = err
				break loop
			}
			i++
			if opts.HitEvery > 0 && i%opts.HitEvery == 0 {
				if err := s.sendClaim(); err != nil {
					runErr = err
					break loop
				}
			}
		}
	}

	_ = s.tr.Close()
	if readErr != nil {
		<-readErr
	}
	if errors.Is(runErr, ErrTooManyViolations) {
		s.disconnect()
	}
	return s.finish(), runErr
}

func (s *Session) sendInput(d sim.Direction) error {
	s.mu.Lock()
	cmd, st, err := s.core.ApplyInput(sim.EncodeControl(d))
	if errors.Is(err, netcode.ErrInputBufferFull) {
		s.mu.Unlock()
		s.log.Warn("input dropped", zap.Error(err))
		return nil
	}
	body, _ := st.(sim.Body)
	wire := protocol.CommandsToWire([]netcode.InputCommand{cmd})[0]
	s.record(recording.Entry{Kind: recording.KindInput, Input: &wire, Predicted: &body})
	tail := s.core.RedundantInputs(s.redundancy)
	s.summary.Sent++
	s.mu.Unlock()

	if errors.Is(err, netcode.ErrDesyncRisk) {
		s.log.Debug("input backlog", zap.Error(err))
	}
	return s.tr.SendMsg(protocol.TypeInput, protocol.InputMsg{Type: protocol.TypeInput, Commands: protocol.CommandsToWire(tail)})
}

// sendClaim 以当前渲染画面中的第一个远端实体为目标声明命中。
// 目标位置取自本地历史上的回溯重建，与服务端判定使用同一时刻；
// 渲染时间已超出本地历史（外推中）时不声明。
func (s *Session) sendClaim() error {
	remote, rt, ok := s.core.SampleRemote()
	if !ok || len(remote) == 0 {
		return nil
	}
	ids := make([]string, 0, len(remote))
	for id := range remote {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	world, err := s.core.ReconstructAt(rt)
	target, found := world[netcode.EntityID(ids[0])].(sim.Body)
	s.mu.Lock()
	if err != nil || !found {
		s.summary.ClaimsSkipped++
		s.mu.Unlock()
		s.log.Debug("hit claim skipped", zap.String("target", ids[0]), zap.Float64("render_time", rt), zap.Error(err))
		return nil
	}
	s.summary.Claims++
	s.mu.Unlock()
	return s.tr.SendMsg(protocol.TypeHitClaim, protocol.HitClaimMsg{
		Type:            protocol.TypeHitClaim,
		ClaimID:         uuid.NewString(),
		Target:          ids[0],
		ObservationTick: rt,
		X:               target.X,
		Y:               target.Y,
	})
}

// wireCode 未知错误码统一归为 E_INTERNAL
func wireCode(code string) string {
	if protocol.IsKnownCode(code) {
		return code
	}
	return protocol.ErrInternal
}

func (s *Session) readLoop(maxViolations int, violations chan<- struct{}) error {
	codec := s.tr.Codec()
	for {
		raw, err := s.tr.Receive()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(codec, raw)
		if err != nil {
			s.log.Warn("undecodable message", zap.Error(err))
			continue
		}
		switch base.Type {
		case protocol.TypeSnapshot:
			var m protocol.SnapshotMsg
			if err := codec.Unmarshal(raw, &m); err != nil {
				s.log.Warn("bad snapshot", zap.Error(err))
				continue
			}
			if n := s.onSnapshot(m); maxViolations > 0 && n >= maxViolations {
				select {
				case violations <- struct{}{}:
				default:
				}
			}
		case protocol.TypeHitVerdict:
			var v protocol.HitVerdictMsg
			if err := codec.Unmarshal(raw, &v); err != nil {
				continue
			}
			if !v.Accepted && wireCode(v.Code) != v.Code {
				s.log.Warn("unknown verdict code", zap.String("claim", v.ClaimID), zap.String("code", v.Code))
			}
			s.mu.Lock()
			if v.Accepted {
				s.summary.Accepted++
			} else {
				s.summary.Rejected[wireCode(v.Code)]++
			}
			s.mu.Unlock()
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = codec.Unmarshal(raw, &e)
			s.log.Warn("server error", zap.String("code", wireCode(e.Code)), zap.String("raw_code", e.Code), zap.String("message", e.Message))
			s.mu.Lock()
			s.summary.ServerErrors++
			s.mu.Unlock()
		}
	}
}

// onSnapshot 返回当前连续协议违规次数
func (s *Session) onSnapshot(m protocol.SnapshotMsg) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.core.Predicted()
	res, err := s.core.OnSnapshot(protocol.SnapshotFromWire(m))
	after, _ := s.core.Predicted().(sim.Body)

	entry := recording.Entry{Kind: recording.KindSnapshot, Snapshot: &m, Predicted: &after}
	if err != nil {
		entry.Error = string(netcode.CodeOf(err))
	}
	s.record(entry)
	s.summary.Snapshots++

	switch {
	case err == nil:
		if before != nil && !before.Equal(after) {
			s.summary.Corrections++
			s.log.Debug("prediction corrected", zap.Uint32("tick", res.Tick), zap.Int("replayed", res.Replayed))
		}
	case errors.Is(err, netcode.ErrStaleSnapshot):
	default:
		s.log.Info("snapshot", zap.Uint32("tick", m.Tick), zap.Error(err))
	}
	return s.core.Stats().ConsecutiveViolations
}

func (s *Session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.core.OnDisconnect()
	s.record(recording.Entry{Kind: recording.KindDisconnect})
}

func (s *Session) finish() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.log.Warn("close recording", zap.Error(err))
		}
	}
	out := s.summary
	out.Core = s.core.Stats()
	out.Final, _ = s.core.Predicted().(sim.Body)
	out.Rejected = make(map[string]int, len(s.summary.Rejected))
	for k, v := range s.summary.Rejected {
		out.Rejected[k] = v
	}
	return out
}

func (s Summary) String() string {
	return fmt.Sprintf("sent=%d snapshots=%d corrections=%d claims=%d accepted=%d pending=%d last_tick=%d",
		s.Sent, s.Snapshots, s.Corrections, s.Claims, s.Accepted, s.Core.Pending, s.Core.LastTick)
}
