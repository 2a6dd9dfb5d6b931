package netcode

// Stepper 是客户端与服务端共用的推进函数。
// 相同的 state 与 cmd 必须得到相同结果，且不得修改入参。
type Stepper interface {
	Step(state EntityState, cmd InputCommand) EntityState
}

// StepFunc 让普通函数满足 Stepper
type StepFunc func(state EntityState, cmd InputCommand) EntityState

func (f StepFunc) Step(state EntityState, cmd InputCommand) EntityState { return f(state, cmd) }

// Predictor 本地预测：输入到达即推进，不等待服务端往返
type Predictor struct {
	stepper Stepper
}

func NewPredictor(stepper Stepper) Predictor {
	return Predictor{stepper: stepper}
}

// ApplyLocally 用一个输入推进当前状态并立即返回
func (p Predictor) ApplyLocally(current EntityState, cmd InputCommand) EntityState {
	return p.stepper.Step(current, cmd)
}

// Replay 从 base 开始按顺序重放 cmds
func (p Predictor) Replay(base EntityState, cmds []InputCommand) EntityState {
	st := base
	for _, c := range cmds {
		st = p.stepper.Step(st, c)
	}
	return st
}
