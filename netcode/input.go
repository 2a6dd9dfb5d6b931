package netcode

import "strconv"

// InputSequencer 为本地控制采样编号并保留到被服务端确认。
// 待确认队列是定长环，按下标访问，出队只移动 head。
type InputSequencer struct {
	buf        []InputCommand
	head       int
	count      int
	maxPending int

	next       Seq // 下一个要分配的序列号
	lastIssued Seq
	issued     bool
	// issuedCount 自上次 Reset 以来分配过的序列号个数，封顶为半个环绕窗口
	issuedCount int
}

// ackWindow 环绕比较能区分先后的最大跨度
const ackWindow = 1 << 15

// NewInputSequencer 创建编号器；序列号从 1 开始，0 保留为“尚未确认”
func NewInputSequencer(maxPending, capacity int) *InputSequencer {
	if maxPending < 1 {
		maxPending = 1
	}
	if capacity < maxPending {
		capacity = maxPending
	}
	return &InputSequencer{
		buf:        make([]InputCommand, capacity),
		maxPending: maxPending,
		next:       1,
	}
}

// Record 分配下一个序列号并入队。
// 入队后超过 maxPending 时命令仍被保留，同时返回 DesyncRisk；
// 环已满时不记录，返回 InputBufferFull。
func (s *InputSequencer) Record(clientTick uint32, payload Payload) (InputCommand, error) {
	if s.count == len(s.buf) {
		return InputCommand{}, newError(ErrInputBufferFull, map[string]string{
			"pending":  strconv.Itoa(s.count),
			"capacity": strconv.Itoa(len(s.buf)),
		})
	}
	cmd := InputCommand{Seq: s.next, ClientTick: clientTick, Payload: payload}
	s.buf[(s.head+s.count)%len(s.buf)] = cmd
	s.count++
	s.lastIssued = cmd.Seq
	s.issued = true
	if s.issuedCount < ackWindow {
		s.issuedCount++
	}
	s.next++
	if s.count > s.maxPending {
		return cmd, newError(ErrDesyncRisk, map[string]string{
			"pending": strconv.Itoa(s.count),
			"max":     strconv.Itoa(s.maxPending),
		})
	}
	return cmd, nil
}

// Acknowledge 从队首移除所有 seq <= last 的命令，返回移除个数。
// 确认从未发出的序列号（晚于最后分配的，或早于本次会话第一个的）
// 返回 ProtocolViolation，队列保持不变。
func (s *InputSequencer) Acknowledge(last Seq) (int, error) {
	if !s.issued {
		if last == 0 {
			return 0, nil
		}
		return 0, s.violation(last)
	}
	if d := last.Distance(s.lastIssued); d < 0 || d >= s.issuedCount {
		return 0, s.violation(last)
	}
	removed := 0
	for s.count > 0 && s.buf[s.head].Seq.LessEq(last) {
		s.buf[s.head] = InputCommand{}
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		removed++
	}
	return removed, nil
}

func (s *InputSequencer) violation(last Seq) error {
	return newError(ErrProtocolViolation, map[string]string{
		"ack":         strconv.Itoa(int(last)),
		"last_issued": strconv.Itoa(int(s.lastIssued)),
		"issued":      strconv.Itoa(s.issuedCount),
	})
}

// Len 待确认命令数
func (s *InputSequencer) Len() int { return s.count }

// Cap 输入环硬容量
func (s *InputSequencer) Cap() int { return len(s.buf) }

// MaxPending 背压阈值
func (s *InputSequencer) MaxPending() int { return s.maxPending }

// LastIssued 最近分配的序列号；ok 为 false 表示尚未分配
func (s *InputSequencer) LastIssued() (Seq, bool) { return s.lastIssued, s.issued }

// Each 按序列号顺序遍历待确认命令
func (s *InputSequencer) Each(fn func(InputCommand)) {
	for i := 0; i < s.count; i++ {
		fn(s.buf[(s.head+i)%len(s.buf)])
	}
}

// Pending 返回待确认命令的副本
func (s *InputSequencer) Pending() []InputCommand {
	out := make([]InputCommand, 0, s.count)
	s.Each(func(c InputCommand) { out = append(out, c) })
	return out
}

// Tail 返回最近的 n 个待确认命令（用于冗余发送），按序列号升序
func (s *InputSequencer) Tail(n int) []InputCommand {
	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]InputCommand, n)
	start := s.count - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.head+start+i)%len(s.buf)]
	}
	return out
}

// Clear 清空待确认队列，但不回退序列号
func (s *InputSequencer) Clear() {
	for i := range s.buf {
		s.buf[i] = InputCommand{}
	}
	s.head = 0
	s.count = 0
}

// Reset 回到初始状态（断线后使用）
func (s *InputSequencer) Reset() {
	s.Clear()
	s.next = 1
	s.lastIssued = 0
	s.issued = false
	s.issuedCount = 0
}
