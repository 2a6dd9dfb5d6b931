package server

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenasync/config"
	"arenasync/netcode"
	"arenasync/protocol"
	"arenasync/sim"
	"arenasync/store"
)

type sinkStub struct{ got []store.Verdict }

func (s *sinkStub) Record(v store.Verdict) { s.got = append(s.got, v) }

func testRoom(t *testing.T) (*Room, *sinkStub) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Netcode.HistoryCapacity = 8
	sink := &sinkStub{}
	r := NewRoom("test", cfg, nil, NewCollectors(nil), sink)
	return r, sink
}

func join(t *testing.T, r *Room, id PlayerID) *ClientConn {
	t.Helper()
	c := NewClientConn(nil, protocol.JSON, 64)
	require.True(t, r.JoinPlayer(r.NewPlayer(id, "session-"+string(id), c)))
	return c
}

// drain 非阻塞取出队列中的所有消息
func drain(t *testing.T, c *ClientConn) []outbound {
	t.Helper()
	var out []outbound
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func snapshotsIn(t *testing.T, msgs []outbound) []protocol.SnapshotMsg {
	t.Helper()
	var out []protocol.SnapshotMsg
	for _, m := range msgs {
		base, err := protocol.DecodeBase(protocol.JSON, m.data)
		require.NoError(t, err)
		if base.Type != protocol.TypeSnapshot {
			continue
		}
		var s protocol.SnapshotMsg
		require.NoError(t, protocol.JSON.Unmarshal(m.data, &s))
		out = append(out, s)
	}
	return out
}

func verdictsIn(t *testing.T, msgs []outbound) []protocol.HitVerdictMsg {
	t.Helper()
	var out []protocol.HitVerdictMsg
	for _, m := range msgs {
		base, err := protocol.DecodeBase(protocol.JSON, m.data)
		require.NoError(t, err)
		if base.Type != protocol.TypeHitVerdict {
			continue
		}
		var v protocol.HitVerdictMsg
		require.NoError(t, protocol.JSON.Unmarshal(m.data, &v))
		out = append(out, v)
	}
	return out
}

func move(pid PlayerID, d sim.Direction, seqs ...netcode.Seq) Input {
	in := Input{PlayerID: pid}
	for _, s := range seqs {
		in.Commands = append(in.Commands, netcode.InputCommand{Seq: s, Payload: sim.EncodeControl(d)})
	}
	return in
}

func TestRoom_ProcessesRedundantInputsAndAcks(t *testing.T) {
	r, _ := testRoom(t)
	c := join(t, r, "alice")

	r.OnInput(move("alice", sim.DirRight, 2, 1, 3))
	r.Tick()
	snaps := snapshotsIn(t, drain(t, c))
	require.Len(t, snaps, 1)
	assert.Equal(t, uint32(1), snaps[0].Tick)
	assert.True(t, snaps[0].HasAck)
	assert.Equal(t, uint16(3), snaps[0].LastProcessedInputSeq)
	require.Len(t, snaps[0].Entities, 1)
	assert.Equal(t, 53.0, snaps[0].Entities[0].X)

	r.OnInput(move("alice", sim.DirRight, 2, 3, 4))
	r.Tick()
	snaps = snapshotsIn(t, drain(t, c))
	require.Len(t, snaps, 1)
	assert.Equal(t, uint16(4), snaps[0].LastProcessedInputSeq)
	assert.Equal(t, 54.0, snaps[0].Entities[0].X)
	assert.Equal(t, int64(2), r.metrics.OldSeqIgnored)
	assert.Equal(t, int64(4), r.metrics.InputsAccepted)
}

func TestRoom_NoAckBeforeFirstInput(t *testing.T) {
	r, _ := testRoom(t)
	c := join(t, r, "alice")
	r.Tick()
	snaps := snapshotsIn(t, drain(t, c))
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].HasAck)
}

func TestRoom_CarriesInputsBeyondPerTickLimit(t *testing.T) {
	r, _ := testRoom(t)
	s := r.Settings()
	s.MaxInputsPerTick = 2
	require.NoError(t, r.UpdateSettings(s))
	join(t, r, "alice")

	r.OnInput(move("alice", sim.DirDown, 1, 2, 3, 4, 5))
	r.Tick()
	assert.Equal(t, 52.0, r.players["alice"].Body.Y)
	assert.Equal(t, int64(3), r.metrics.InputsCarried)
	r.Tick()
	r.Tick()
	assert.Equal(t, 55.0, r.players["alice"].Body.Y)
	assert.Equal(t, netcode.Seq(5), r.players["alice"].lastProcessed)
}

func TestRoom_SimulatedImpairment(t *testing.T) {
	r, _ := testRoom(t)
	c := join(t, r, "alice")

	s := r.Settings()
	s.SimulateDropProb = 1
	require.NoError(t, r.UpdateSettings(s))
	r.Tick()
	assert.Empty(t, drain(t, c))
	assert.Equal(t, int64(1), r.metrics.DropsSimulated)

	var delays []time.Duration
	var pending []func()
	r.after = func(d time.Duration, f func()) {
		delays = append(delays, d)
		pending = append(pending, f)
	}
	s.SimulateDropProb = 0
	s.SimulateDelayMinMs, s.SimulateDelayMaxMs = 30, 30
	require.NoError(t, r.UpdateSettings(s))
	r.Tick()
	r.Tick()
	assert.Empty(t, drain(t, c))
	require.Equal(t, []time.Duration{30 * time.Millisecond, 30 * time.Millisecond}, delays)

	// 倒序投递模拟乱序到达
	pending[1]()
	pending[0]()
	snaps := snapshotsIn(t, drain(t, c))
	require.Len(t, snaps, 2)
	assert.Equal(t, uint32(3), snaps[0].Tick)
	assert.Equal(t, uint32(2), snaps[1].Tick)
	assert.Equal(t, int64(2), r.metrics.SnapshotsSent)
}

func TestRoom_SendQueueFullIsCounted(t *testing.T) {
	r, _ := testRoom(t)
	c := NewClientConn(nil, protocol.JSON, 1)
	require.True(t, r.JoinPlayer(r.NewPlayer("alice", "s", c)))
	r.Tick()
	r.Tick()
	assert.Len(t, drain(t, c), 1)
	assert.Equal(t, int64(1), r.metrics.ChanFullDiscarded)
}

func TestRoom_HitClaims(t *testing.T) {
	r, sink := testRoom(t)
	alice := join(t, r, "alice")
	join(t, r, "bob")
	r.Tick() // tick 1：bob 在 (50,50)
	for seq := netcode.Seq(1); seq <= 5; seq++ {
		r.OnInput(move("bob", sim.DirRight, seq))
		r.Tick() // tick 2..6：bob 依次到 51..55
	}
	drain(t, alice)

	claim := func(id, target string, obs, x, y float64) {
		require.True(t, r.OnClaim(HitClaim{PlayerID: "alice", Msg: protocol.HitClaimMsg{
			Type: protocol.TypeHitClaim, ClaimID: id, Target: target, ObservationTick: obs, X: x, Y: y,
		}}))
	}
	claim("hit", "bob", 4.5, 53.5, 50)
	claim("far", "bob", 4, 60, 50)
	claim("ahead", "bob", 50, 55, 50)
	claim("self", "alice", 4, 50, 50)
	claim("ghost", "zed", 4, 50, 50)
	claim("hit", "bob", 4.5, 53.5, 50)
	r.Tick() // tick 7

	verdicts := verdictsIn(t, drain(t, alice))
	require.Len(t, verdicts, 6)
	got := map[string]string{}
	for _, v := range verdicts[:5] {
		got[v.ClaimID] = v.Code
		assert.Equal(t, uint32(7), v.Tick)
	}
	assert.Equal(t, map[string]string{
		"hit":   "",
		"far":   protocol.ErrOutOfRange,
		"ahead": protocol.ErrObservationAhead,
		"self":  protocol.ErrInvalidTarget,
		"ghost": protocol.ErrInvalidTarget,
	}, got)
	assert.True(t, verdicts[0].Accepted)
	assert.Equal(t, protocol.ErrDuplicateClaim, verdicts[5].Code)

	require.Len(t, sink.got, 6)
	assert.True(t, sink.got[0].Accepted)
	assert.InDelta(t, 0, sink.got[0].Distance, 1e-9)
	assert.InDelta(t, 7, sink.got[1].Distance, 1e-9)
	assert.Equal(t, int64(1), r.metrics.ClaimsAccepted)
	assert.Equal(t, int64(5), r.metrics.ClaimsRejected)

	// 历史容量为 8，继续推进后 tick 2 已被淘汰
	for i := 0; i < 10; i++ {
		r.Tick()
	}
	drain(t, alice)
	claim("old", "bob", 2, 51, 50)
	r.Tick()
	verdicts = verdictsIn(t, drain(t, alice))
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Accepted)
	assert.Equal(t, protocol.ErrHistoryExpired, verdicts[0].Code)
}

func TestRoom_RejectsMalformedClaims(t *testing.T) {
	r, sink := testRoom(t)
	alice := join(t, r, "alice")
	join(t, r, "bob")
	r.Tick()
	r.Tick()
	drain(t, alice)

	for _, c := range []protocol.HitClaimMsg{
		{ClaimID: "", Target: "bob", ObservationTick: 1, X: 50, Y: 50},
		{ClaimID: "", Target: "bob", ObservationTick: 1, X: 50, Y: 50},
		{ClaimID: "nan", Target: "bob", ObservationTick: math.NaN(), X: 50, Y: 50},
	} {
		c.Type = protocol.TypeHitClaim
		require.True(t, r.OnClaim(HitClaim{PlayerID: "alice", Msg: c}))
	}
	r.Tick()

	verdicts := verdictsIn(t, drain(t, alice))
	require.Len(t, verdicts, 3)
	assert.Equal(t, protocol.ErrProtoBadRequest, verdicts[0].Code)
	assert.Equal(t, protocol.ErrProtoBadRequest, verdicts[1].Code, "empty ids are never tracked as duplicates")
	assert.Equal(t, protocol.ErrHistoryExpired, verdicts[2].Code)
	for _, v := range verdicts {
		assert.False(t, v.Accepted)
	}
	require.Len(t, sink.got, 3)
	assert.Equal(t, int64(3), r.metrics.ClaimsRejected)
}

func TestRoom_JoinReplacesAndStaleLeaveIgnored(t *testing.T) {
	r, _ := testRoom(t)
	first := join(t, r, "alice")
	r.Tick()
	second := join(t, r, "alice")
	r.Tick()

	assert.False(t, first.Enqueue([]byte("x")), "old connection closed on rejoin")
	assert.Same(t, second, r.players["alice"].Conn)

	// 旧连接的读泵退出时不应移除新会话
	r.RequestLeave("alice", first)
	r.Tick()
	require.Contains(t, r.players, PlayerID("alice"))

	r.RequestLeave("alice", second)
	r.Tick()
	assert.NotContains(t, r.players, PlayerID("alice"))
}

func TestRoom_UpdateSettingsValidates(t *testing.T) {
	r, _ := testRoom(t)
	s := r.Settings()
	s.SimulateDropProb = 2
	assert.Error(t, r.UpdateSettings(s))
	s = r.Settings()
	s.SimulateDelayMinMs, s.SimulateDelayMaxMs = 10, 5
	assert.Error(t, r.UpdateSettings(s))
	s = r.Settings()
	s.Step = 2
	require.NoError(t, r.UpdateSettings(s))
	assert.Equal(t, 2.0, r.World().Step)
	assert.Equal(t, 2.0, r.Welcome(r.NewPlayer("p", "s", nil)).World.Step)
}

func TestRoom_StopWithoutTicker(t *testing.T) {
	r, _ := testRoom(t)
	c := join(t, r, "alice")
	r.Tick()
	r.Stop()
	assert.Empty(t, r.players)
	assert.False(t, c.Enqueue([]byte("x")))
	assert.False(t, r.JoinPlayer(r.NewPlayer("bob", "s", nil)))
}
