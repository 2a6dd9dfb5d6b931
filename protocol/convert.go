package protocol

import (
	"fmt"
	"sort"
	"time"

	"arenasync/netcode"
	"arenasync/sim"
)

// CommandsToWire 把待确认输入转换为线上格式
func CommandsToWire(cmds []netcode.InputCommand) []InputCommand {
	out := make([]InputCommand, len(cmds))
	for i, c := range cmds {
		p := c.Payload
		out[i] = InputCommand{Seq: uint16(c.Seq), ClientTick: c.ClientTick, Payload: p[:]}
	}
	return out
}

// CommandFromWire 校验载荷长度并还原为 netcode.InputCommand
func CommandFromWire(c InputCommand) (netcode.InputCommand, error) {
	if len(c.Payload) > netcode.PayloadSize {
		return netcode.InputCommand{}, fmt.Errorf("protocol: payload of %d bytes exceeds %d", len(c.Payload), netcode.PayloadSize)
	}
	var p netcode.Payload
	copy(p[:], c.Payload)
	return netcode.InputCommand{Seq: netcode.Seq(c.Seq), ClientTick: c.ClientTick, Payload: p}, nil
}

// SnapshotToWire 实体按 ID 排序，保证编码结果确定
func SnapshotToWire(s netcode.Snapshot) SnapshotMsg {
	msg := SnapshotMsg{
		Type:                  TypeSnapshot,
		Tick:                  s.Tick,
		LastProcessedInputSeq: uint16(s.LastProcessedInput),
		HasAck:                s.HasAck,
		Entities:              make([]EntityMsg, 0, len(s.Entities)),
	}
	for id, st := range s.Entities {
		b, ok := st.(sim.Body)
		if !ok {
			continue
		}
		msg.Entities = append(msg.Entities, EntityMsg{ID: string(id), X: b.X, Y: b.Y, VX: b.VX, VY: b.VY})
	}
	sort.Slice(msg.Entities, func(i, j int) bool { return msg.Entities[i].ID < msg.Entities[j].ID })
	return msg
}

func SnapshotFromWire(m SnapshotMsg) netcode.Snapshot {
	ents := make(map[netcode.EntityID]netcode.EntityState, len(m.Entities))
	for _, e := range m.Entities {
		ents[netcode.EntityID(e.ID)] = sim.Body{X: e.X, Y: e.Y, VX: e.VX, VY: e.VY}
	}
	return netcode.Snapshot{
		Tick:               m.Tick,
		Entities:           ents,
		LastProcessedInput: netcode.Seq(m.LastProcessedInputSeq),
		HasAck:             m.HasAck,
	}
}

// NetcodeParamsFrom 以毫秒表示时长
func NetcodeParamsFrom(cfg netcode.Config, redundancy int) NetcodeParams {
	return NetcodeParams{
		HistoryCapacity:           cfg.HistoryCapacity,
		InterpolationDelayMs:      cfg.InterpolationDelay.Milliseconds(),
		MaxExtrapolationHorizonMs: cfg.MaxExtrapolationHorizon.Milliseconds(),
		MaxPendingInputs:          cfg.MaxPendingInputs,
		InputBufferCapacity:       cfg.InputBufferCapacity,
		InputRedundancy:           redundancy,
	}
}

// Config 还原客户端参数；tickRateHz 来自 WELCOME.world
func (p NetcodeParams) Config(tickRateHz int) netcode.Config {
	return netcode.Config{
		TickRateHz:              tickRateHz,
		HistoryCapacity:         p.HistoryCapacity,
		InterpolationDelay:      time.Duration(p.InterpolationDelayMs) * time.Millisecond,
		MaxExtrapolationHorizon: time.Duration(p.MaxExtrapolationHorizonMs) * time.Millisecond,
		MaxPendingInputs:        p.MaxPendingInputs,
		InputBufferCapacity:     p.InputBufferCapacity,
	}
}
