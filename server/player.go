package server

import (
	"sort"

	"arenasync/netcode"
	"arenasync/sim"
)

// PlayerID 表示玩家唯一标识
type PlayerID string

// Player 房间内的玩家实体（服务端权威状态），只在 Tick 线程中读写
type Player struct {
	ID      PlayerID
	Session string
	Body    sim.Body

	Conn *ClientConn // 网络连接的发送端（写协程）

	// pending 按序列号（环绕比较）递增、无重复
	pending       []netcode.InputCommand
	pendingCap    int
	lastProcessed netcode.Seq
	hasProcessed  bool
	claims        map[string]struct{}
}

func newPlayer(id PlayerID, session string, spawn sim.Body, conn *ClientConn, pendingCap int) *Player {
	return &Player{
		ID:         id,
		Session:    session,
		Body:       spawn,
		Conn:       conn,
		pendingCap: pendingCap,
		claims:     make(map[string]struct{}),
	}
}

type enqueueResult struct {
	queued, old, overflow int
}

// enqueue 合并一批（可能冗余、乱序的）命令：丢弃已处理或重复的序列号
func (p *Player) enqueue(cmds []netcode.InputCommand) enqueueResult {
	var res enqueueResult
	for _, c := range cmds {
		if p.hasProcessed && c.Seq.LessEq(p.lastProcessed) {
			res.old++
			continue
		}
		i := sort.Search(len(p.pending), func(i int) bool { return !p.pending[i].Seq.Less(c.Seq) })
		if i < len(p.pending) && p.pending[i].Seq == c.Seq {
			res.old++
			continue
		}
		if len(p.pending) >= p.pendingCap {
			res.overflow++
			continue
		}
		p.pending = append(p.pending, netcode.InputCommand{})
		copy(p.pending[i+1:], p.pending[i:])
		p.pending[i] = c
		res.queued++
	}
	return res
}

// take 取出最多 n 个待处理命令
func (p *Player) take(n int) []netcode.InputCommand {
	if n > len(p.pending) {
		n = len(p.pending)
	}
	out := append([]netcode.InputCommand(nil), p.pending[:n]...)
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return out
}

// markProcessed 记录最后处理的序列号，用于快照中的确认
func (p *Player) markProcessed(seq netcode.Seq) {
	p.lastProcessed = seq
	p.hasProcessed = true
}

// seenClaim 记录声明 ID，重复返回 true
func (p *Player) seenClaim(id string) bool {
	if _, ok := p.claims[id]; ok {
		return true
	}
	if len(p.claims) >= maxTrackedClaims {
		p.claims = make(map[string]struct{})
	}
	p.claims[id] = struct{}{}
	return false
}

const maxTrackedClaims = 1024
