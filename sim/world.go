package sim

import "arenasync/netcode"

// World 竞技场规则：边界与每个输入的移动步长。
// 客户端与服务端必须使用同一份参数，Step 才能逐位一致。
type World struct {
	Width  float64
	Height float64
	Step   float64
}

// DefaultWorld 100x100 场地，每个输入移动 1 单位
func DefaultWorld() World {
	return World{Width: 100, Height: 100, Step: 1}
}

// Spawn 新玩家出生点（场地中心）
func (w World) Spawn() Body {
	return Body{X: w.Width / 2, Y: w.Height / 2}
}

// Stepper 返回满足 netcode.Stepper 的推进函数
func (w World) Stepper() netcode.Stepper {
	return netcode.StepFunc(w.Advance)
}

// Advance 执行一次移动并进行越界裁剪
func (w World) Advance(state netcode.EntityState, cmd netcode.InputCommand) netcode.EntityState {
	b, _ := state.(Body)
	x, y := b.X, b.Y
	switch DecodeControl(cmd.Payload) {
	case DirUp:
		y -= w.Step
	case DirDown:
		y += w.Step
	case DirLeft:
		x -= w.Step
	case DirRight:
		x += w.Step
	}
	x = clamp(x, 0, w.Width)
	y = clamp(y, 0, w.Height)
	return Body{X: x, Y: y, VX: x - b.X, VY: y - b.Y}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
