package netcode

// EntityID 实体唯一标识
type EntityID string

// Seq 输入序列号，按 2^16 取模环绕
type Seq uint16

// Less 按环绕语义比较：差值视为有符号 16 位数
func (s Seq) Less(other Seq) bool { return int16(s-other) < 0 }

// LessEq 环绕语义下 s <= other
func (s Seq) LessEq(other Seq) bool { return s == other || s.Less(other) }

// Distance 从 s 前进到 other 需要的步数（other 在 s 之前时为负）
func (s Seq) Distance(other Seq) int { return int(int16(other - s)) }

// PayloadSize 控制载荷的固定字节数
const PayloadSize = 8

// Payload 不透明的定长控制数据，由模拟层解释
type Payload [PayloadSize]byte

// InputCommand 一次本地控制采样，创建后不可变
type InputCommand struct {
	Seq        Seq
	ClientTick uint32
	Payload    Payload
}

// EntityState 由模拟层定义的实体状态，需支持插值与相等比较。
// Interpolate 的 alpha 大于 1 时按同一线性关系外推。
type EntityState interface {
	Interpolate(to EntityState, alpha float64) EntityState
	Equal(other EntityState) bool
}

// Snapshot 服务端某个 Tick 的权威状态
type Snapshot struct {
	Tick     uint32
	Entities map[EntityID]EntityState
	// LastProcessedInput 服务端为接收方处理到的最后一个输入序列号
	LastProcessedInput Seq
	// HasAck 为 false 表示服务端尚未处理过该客户端的任何输入
	HasAck bool
}

// Entity 读取实体状态
func (s Snapshot) Entity(id EntityID) (EntityState, bool) {
	st, ok := s.Entities[id]
	return st, ok && st != nil
}

// ReconciliationResult 一次校正的产物，只在本次校正中使用
type ReconciliationResult struct {
	Tick         uint32
	Corrected    EntityState
	Acknowledged int
	Replayed     int
}
