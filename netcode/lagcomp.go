package netcode

import (
	"math"
	"strconv"
)

// LagCompensator 按声明者当时看到的画面重建世界，用于命中判定。只读历史。
type LagCompensator struct {
	history HistoryView
}

func NewLagCompensator(history HistoryView) *LagCompensator {
	return &LagCompensator{history: history}
}

// ReconstructAt 把所有实体插值到 observationTime。
// 早于最旧 Tick 返回 HistoryExpired，调用方应拒绝对应声明。
func (lc *LagCompensator) ReconstructAt(observationTime float64) (map[EntityID]EntityState, error) {
	a, b, err := lc.bracket(observationTime)
	if err != nil {
		return nil, err
	}
	out := make(map[EntityID]EntityState, len(b.Entities))
	if a.Tick == b.Tick {
		for id, st := range a.Entities {
			out[id] = st
		}
		return out, nil
	}
	alpha := (observationTime - float64(a.Tick)) / float64(b.Tick-a.Tick)
	for id, sa := range a.Entities {
		if sb, ok := b.Entities[id]; ok {
			out[id] = sa.Interpolate(sb, alpha)
			continue
		}
		// b 帧中已消失的实体：观测时刻仍位于 a 帧之后的区间内，保留 a 帧状态
		out[id] = sa
	}
	return out, nil
}

// ReconstructEntity 只重建单个实体
func (lc *LagCompensator) ReconstructEntity(id EntityID, observationTime float64) (EntityState, error) {
	a, b, err := lc.bracket(observationTime)
	if err != nil {
		return nil, err
	}
	sa, okA := a.Entity(id)
	sb, okB := b.Entity(id)
	switch {
	case okA && okB && a.Tick != b.Tick:
		alpha := (observationTime - float64(a.Tick)) / float64(b.Tick-a.Tick)
		return sa.Interpolate(sb, alpha), nil
	case okA:
		return sa, nil
	case okB && float64(b.Tick) == observationTime:
		return sb, nil
	}
	return nil, newError(ErrEntityMissing, map[string]string{"entity": string(id)})
}

func (lc *LagCompensator) bracket(t float64) (Snapshot, Snapshot, error) {
	oldest, ok := lc.history.Oldest()
	if !ok || math.IsNaN(t) || t < float64(oldest.Tick) {
		details := map[string]string{"observation": strconv.FormatFloat(t, 'f', 3, 64)}
		if ok {
			details["oldest"] = strconv.FormatUint(uint64(oldest.Tick), 10)
		}
		return Snapshot{}, Snapshot{}, newError(ErrHistoryExpired, details)
	}
	newest, _ := lc.history.Newest()
	if t > float64(newest.Tick) {
		return Snapshot{}, Snapshot{}, newError(ErrObservationAhead, map[string]string{
			"observation": strconv.FormatFloat(t, 'f', 3, 64),
			"newest":      strconv.FormatUint(uint64(newest.Tick), 10),
		})
	}
	a, b, ok := lc.history.Bracket(t)
	if !ok {
		return Snapshot{}, Snapshot{}, newError(ErrHistoryExpired, map[string]string{
			"observation": strconv.FormatFloat(t, 'f', 3, 64),
		})
	}
	return a, b, nil
}
