package netcode

import (
	"strconv"

	"go.uber.org/zap"
)

// Reconciler 收到权威快照后：确认输入 → 回到服务端状态 → 重放未确认输入 → 提交
type Reconciler struct {
	local     EntityID
	inputs    *InputSequencer
	predictor Predictor
	log       *zap.Logger

	predicted EntityState
	lastTick  uint32
	applied   bool
}

func NewReconciler(local EntityID, inputs *InputSequencer, predictor Predictor, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{local: local, inputs: inputs, predictor: predictor, log: log}
}

// Predicted 当前提交的本地预测状态
func (r *Reconciler) Predicted() EntityState { return r.predicted }

// SetPredicted 由本地预测路径写回最新状态
func (r *Reconciler) SetPredicted(st EntityState) { r.predicted = st }

// LastTick 最近一次应用的快照 Tick
func (r *Reconciler) LastTick() (uint32, bool) { return r.lastTick, r.applied }

// Reconcile 处理一个快照。Tick 不新于上次应用的快照时直接丢弃，状态不变。
func (r *Reconciler) Reconcile(snap Snapshot) (ReconciliationResult, error) {
	if r.applied && snap.Tick <= r.lastTick {
		return ReconciliationResult{}, newError(ErrStaleSnapshot, map[string]string{
			"tick":         strconv.FormatUint(uint64(snap.Tick), 10),
			"last_applied": strconv.FormatUint(uint64(r.lastTick), 10),
		})
	}
	r.lastTick = snap.Tick
	r.applied = true

	res := ReconciliationResult{Tick: snap.Tick}
	var violation error
	if snap.HasAck {
		n, err := r.inputs.Acknowledge(snap.LastProcessedInput)
		if err != nil {
			// 服务端与客户端已不同步：清空队列保证前进，不再重放
			r.log.Warn("reconcile: protocol violation, clearing pending inputs",
				zap.Uint32("tick", snap.Tick),
				zap.Uint16("ack", uint16(snap.LastProcessedInput)),
				zap.Int("pending", r.inputs.Len()),
			)
			r.inputs.Clear()
			violation = err
		}
		res.Acknowledged = n
	}

	base, ok := snap.Entity(r.local)
	if !ok {
		res.Corrected = r.predicted
		if violation != nil {
			return res, violation
		}
		return res, newError(ErrEntityMissing, map[string]string{"entity": string(r.local)})
	}

	st := base
	r.inputs.Each(func(c InputCommand) {
		st = r.predictor.ApplyLocally(st, c)
		res.Replayed++
	})
	r.predicted = st
	res.Corrected = st
	return res, violation
}

// Reset 回到初始状态
func (r *Reconciler) Reset() {
	r.predicted = nil
	r.lastTick = 0
	r.applied = false
}
