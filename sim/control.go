package sim

import (
	"strings"

	"arenasync/netcode"
)

// Direction 移动方向（服务端权威解释客户端“意图”）
type Direction uint8

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return "none"
	}
}

// ParseDirection 解析文本命令，未知值视为 DirNone
func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "up":
		return DirUp
	case "down":
		return DirDown
	case "left":
		return DirLeft
	case "right":
		return DirRight
	default:
		return DirNone
	}
}

// EncodeControl 把方向写入定长载荷的第 0 字节，其余保留
func EncodeControl(d Direction) netcode.Payload {
	var p netcode.Payload
	p[0] = byte(d)
	return p
}

// DecodeControl 读取载荷中的方向；越界值视为 DirNone
func DecodeControl(p netcode.Payload) Direction {
	d := Direction(p[0])
	if d > DirRight {
		return DirNone
	}
	return d
}
