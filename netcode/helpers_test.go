package netcode_test

import (
	"time"

	"arenasync/netcode"
	"arenasync/sim"
)

const local netcode.EntityID = "alice"

func testConfig() netcode.Config {
	return netcode.Config{
		TickRateHz:              20,
		HistoryCapacity:         8,
		InterpolationDelay:      100 * time.Millisecond, // 2 ticks
		MaxExtrapolationHorizon: 250 * time.Millisecond, // 5 ticks
		MaxPendingInputs:        16,
		InputBufferCapacity:     32,
	}
}

func snap(tick uint32, bodies map[netcode.EntityID]sim.Body) netcode.Snapshot {
	ents := make(map[netcode.EntityID]netcode.EntityState, len(bodies))
	for id, b := range bodies {
		ents[id] = b
	}
	return netcode.Snapshot{Tick: tick, Entities: ents}
}

func acked(s netcode.Snapshot, seq netcode.Seq) netcode.Snapshot {
	s.LastProcessedInput = seq
	s.HasAck = true
	return s
}

func at(x, y float64) sim.Body { return sim.Body{X: x, Y: y} }
