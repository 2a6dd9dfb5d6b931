package netcode

import (
	"errors"
	"fmt"
)

// Code 标识可恢复错误的类别，调用方据此决定是否升级处理（例如断开连接）
type Code string

const (
	// CodeDesyncRisk 待确认输入超过阈值（持续丢包或服务端停滞）
	CodeDesyncRisk Code = "DESYNC_RISK"
	// CodeInputBufferFull 输入环已满，本次输入未被记录
	CodeInputBufferFull Code = "INPUT_BUFFER_FULL"
	// CodeProtocolViolation 服务端确认了从未发出的序列号
	CodeProtocolViolation Code = "PROTOCOL_VIOLATION"
	// CodeHistoryExpired 观测时间早于历史中最旧的 Tick
	CodeHistoryExpired Code = "HISTORY_EXPIRED"
	// CodeObservationAhead 观测时间晚于历史中最新的 Tick
	CodeObservationAhead Code = "OBSERVATION_AHEAD"
	// CodeStaleSnapshot 快照 Tick 不新于已应用的 Tick（乱序或重复）
	CodeStaleSnapshot Code = "STALE_SNAPSHOT"
	// CodeEntityMissing 快照中缺少所需实体
	CodeEntityMissing Code = "ENTITY_MISSING"
)

// Error 是 netcode 内所有可恢复错误的统一形态
type Error struct {
	Code    Code
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// Is 按 Code 匹配，使 errors.Is(err, ErrDesyncRisk) 对携带细节的实例同样成立。
// InputBufferFull 同时视为 DesyncRisk。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return e.Code == CodeInputBufferFull && t.Code == CodeDesyncRisk
}

var (
	ErrDesyncRisk        = &Error{Code: CodeDesyncRisk, Message: "pending inputs exceed threshold"}
	ErrInputBufferFull   = &Error{Code: CodeInputBufferFull, Message: "input buffer full, command not recorded"}
	ErrProtocolViolation = &Error{Code: CodeProtocolViolation, Message: "acknowledged sequence was never issued"}
	ErrHistoryExpired    = &Error{Code: CodeHistoryExpired, Message: "observation time precedes retained history"}
	ErrObservationAhead  = &Error{Code: CodeObservationAhead, Message: "observation time is after newest snapshot"}
	ErrStaleSnapshot     = &Error{Code: CodeStaleSnapshot, Message: "snapshot tick not newer than last applied"}
	ErrEntityMissing     = &Error{Code: CodeEntityMissing, Message: "entity not present in snapshot"}
)

func newError(base *Error, details map[string]string) *Error {
	return &Error{Code: base.Code, Message: base.Message, Details: details}
}

// CodeOf 取出错误码；非 netcode 错误返回空串
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
