package sim

import "arenasync/netcode"

// Body 玩家实体的可同步状态；VX/VY 为最近一步的位移
type Body struct {
	X  float64 `json:"x" msgpack:"x"`
	Y  float64 `json:"y" msgpack:"y"`
	VX float64 `json:"vx" msgpack:"vx"`
	VY float64 `json:"vy" msgpack:"vy"`
}

var _ netcode.EntityState = Body{}

// Interpolate 线性插值；alpha > 1 时沿同一直线外推
func (b Body) Interpolate(to netcode.EntityState, alpha float64) netcode.EntityState {
	t, ok := to.(Body)
	if !ok {
		return b
	}
	return Body{
		X:  lerp(b.X, t.X, alpha),
		Y:  lerp(b.Y, t.Y, alpha),
		VX: lerp(b.VX, t.VX, alpha),
		VY: lerp(b.VY, t.VY, alpha),
	}
}

func (b Body) Equal(other netcode.EntityState) bool {
	o, ok := other.(Body)
	return ok && o == b
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
