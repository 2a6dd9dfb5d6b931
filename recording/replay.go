package recording

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"arenasync/netcode"
	"arenasync/protocol"
	"arenasync/sim"
)

// Mismatch 重放结果与录制时的预测状态不一致
type Mismatch struct {
	Index  int      `json:"index"`
	Kind   string   `json:"kind"`
	Want   sim.Body `json:"want"`
	Got    sim.Body `json:"got"`
	Detail string   `json:"detail,omitempty"`
}

// Result 一次重放的汇总
type Result struct {
	Inputs      int        `json:"inputs"`
	Snapshots   int        `json:"snapshots"`
	Disconnects int        `json:"disconnects"`
	Final       sim.Body   `json:"final"`
	Digest      string     `json:"digest"`
	Mismatches  []Mismatch `json:"mismatches,omitempty"`
}

// Replay 用全新的网络核心按顺序重放录制的输入与快照。
// 每个事件后的预测状态计入摘要，并与录制值比对。
func Replay(entries []Entry, log *zap.Logger) (Result, error) {
	var res Result
	if len(entries) == 0 || entries[0].Kind != KindHeader || entries[0].Header == nil {
		return res, errors.New("recording: missing header")
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := entries[0].Header
	world := sim.World{Width: h.World.Width, Height: h.World.Height, Step: h.World.Step}
	spawn := sim.Body{X: h.World.Spawn.X, Y: h.World.Spawn.Y}
	epoch := time.Unix(0, 0)
	c, err := netcode.NewClient(h.Netcode.Config(h.World.TickRateHz), netcode.EntityID(h.EntityID), spawn, world.Stepper(),
		netcode.WithLogger(log), netcode.WithNow(func() time.Time { return epoch }))
	if err != nil {
		return res, fmt.Errorf("recording: %w", err)
	}

	digest := sha256.New()
	for i, e := range entries[1:] {
		idx := i + 1
		var detail string
		switch e.Kind {
		case KindInput:
			if e.Input == nil {
				return res, fmt.Errorf("recording: entry %d: input without command", idx)
			}
			want, err := protocol.CommandFromWire(*e.Input)
			if err != nil {
				return res, fmt.Errorf("recording: entry %d: %w", idx, err)
			}
			got, _, aerr := c.ApplyInput(want.Payload)
			if errors.Is(aerr, netcode.ErrInputBufferFull) {
				detail = "input rejected: buffer full"
			} else if got.Seq != want.Seq {
				detail = fmt.Sprintf("seq %d, recorded %d", got.Seq, want.Seq)
			}
			res.Inputs++
		case KindSnapshot:
			if e.Snapshot == nil {
				return res, fmt.Errorf("recording: entry %d: snapshot without body", idx)
			}
			_, _ = c.OnSnapshot(protocol.SnapshotFromWire(*e.Snapshot))
			res.Snapshots++
		case KindDisconnect:
			c.OnDisconnect()
			res.Disconnects++
		default:
			continue
		}

		got, _ := c.Predicted().(sim.Body)
		fmt.Fprintf(digest, "%d %s %x %x %x %x\n", idx, e.Kind,
			math.Float64bits(got.X), math.Float64bits(got.Y), math.Float64bits(got.VX), math.Float64bits(got.VY))
		if detail == "" && e.Predicted != nil && *e.Predicted != got {
			detail = "predicted state diverged"
		}
		if detail != "" {
			m := Mismatch{Index: idx, Kind: e.Kind, Got: got, Detail: detail}
			if e.Predicted != nil {
				m.Want = *e.Predicted
			}
			res.Mismatches = append(res.Mismatches, m)
			log.Debug("replay mismatch", zap.Int("index", idx), zap.String("kind", e.Kind), zap.String("detail", detail))
		}
		res.Final = got
	}
	res.Digest = hex.EncodeToString(digest.Sum(nil))
	return res, nil
}

// Verify 重放两次并要求摘要一致
func Verify(entries []Entry, log *zap.Logger) (Result, error) {
	first, err := Replay(entries, log)
	if err != nil {
		return first, err
	}
	second, err := Replay(entries, log)
	if err != nil {
		return second, err
	}
	if first.Digest != second.Digest {
		return first, fmt.Errorf("recording: replay not deterministic: %s != %s", first.Digest, second.Digest)
	}
	return first, nil
}
