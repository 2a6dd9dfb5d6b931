package netcode

// SampleMode 说明采样结果的来源
type SampleMode int

const (
	// Interpolated 渲染时间落在两帧之间（或恰为某帧）
	Interpolated SampleMode = iota + 1
	// Extrapolated 超出最新帧，但仍在外推上限内
	Extrapolated
	// Held 超出外推上限，保持最后已知状态
	Held
	// Clamped 早于最旧帧，取最旧状态
	Clamped
)

func (m SampleMode) String() string {
	switch m {
	case Interpolated:
		return "interpolated"
	case Extrapolated:
		return "extrapolated"
	case Held:
		return "held"
	case Clamped:
		return "clamped"
	default:
		return "unknown"
	}
}

// Interpolator 为远端实体在两帧已知状态之间生成平滑的渲染状态，只读历史
type Interpolator struct {
	history      HistoryView
	delayTicks   float64
	horizonTicks float64
}

func NewInterpolator(history HistoryView, cfg Config) *Interpolator {
	return &Interpolator{
		history:      history,
		delayTicks:   cfg.TicksFor(cfg.InterpolationDelay),
		horizonTicks: cfg.TicksFor(cfg.MaxExtrapolationHorizon),
	}
}

// RenderTime 渲染时间 = 服务端时间 - 缓冲延迟
func (ip *Interpolator) RenderTime(serverTick float64) float64 {
	return serverTick - ip.delayTicks
}

// Sample 计算实体 id 在 renderTime 的渲染状态
func (ip *Interpolator) Sample(id EntityID, renderTime float64) (EntityState, SampleMode, error) {
	h := ip.history
	newestIdx := ip.prevWith(id, h.Len()-1)
	if newestIdx < 0 {
		return nil, 0, newError(ErrEntityMissing, map[string]string{"entity": string(id)})
	}
	newest := h.Index(newestIdx)
	newestState := newest.Entities[id]

	if renderTime >= float64(newest.Tick) {
		ahead := renderTime - float64(newest.Tick)
		if ahead == 0 {
			return newestState, Interpolated, nil
		}
		if ahead > ip.horizonTicks {
			return newestState, Held, nil
		}
		prevIdx := ip.prevWith(id, newestIdx-1)
		if prevIdx < 0 {
			return newestState, Held, nil
		}
		prev := h.Index(prevIdx)
		span := float64(newest.Tick - prev.Tick)
		alpha := 1 + ahead/span
		return prev.Entities[id].Interpolate(newestState, alpha), Extrapolated, nil
	}

	// 向前找到第一帧 Tick <= renderTime 的快照 a，b 为其后第一帧含该实体的快照
	bIdx := newestIdx
	aIdx := ip.prevWith(id, bIdx-1)
	for aIdx >= 0 && float64(h.Index(aIdx).Tick) > renderTime {
		bIdx = aIdx
		aIdx = ip.prevWith(id, aIdx-1)
	}
	b := h.Index(bIdx)
	if aIdx < 0 {
		return b.Entities[id], Clamped, nil
	}
	a := h.Index(aIdx)
	if float64(a.Tick) == renderTime {
		return a.Entities[id], Interpolated, nil
	}
	alpha := (renderTime - float64(a.Tick)) / float64(b.Tick-a.Tick)
	return a.Entities[id].Interpolate(b.Entities[id], alpha), Interpolated, nil
}

// SampleAll 采样最新快照中的全部实体，跳过 exclude（通常是本地预测实体）
func (ip *Interpolator) SampleAll(renderTime float64, exclude EntityID) map[EntityID]EntityState {
	newest, ok := ip.history.Newest()
	if !ok {
		return nil
	}
	out := make(map[EntityID]EntityState, len(newest.Entities))
	for id := range newest.Entities {
		if id == exclude {
			continue
		}
		if st, _, err := ip.Sample(id, renderTime); err == nil {
			out[id] = st
		}
	}
	return out
}

// prevWith 从逻辑下标 from 向旧方向查找含实体 id 的快照
func (ip *Interpolator) prevWith(id EntityID, from int) int {
	for i := from; i >= 0; i-- {
		if _, ok := ip.history.Index(i).Entity(id); ok {
			return i
		}
	}
	return -1
}
