package server

import (
	"arenasync/netcode"
	"arenasync/protocol"
)

// Input 一条 INPUT 消息解出的命令（意图），由服务端在 Tick 中解释并驱动世界状态
type Input struct {
	PlayerID PlayerID
	Commands []netcode.InputCommand
}

// HitClaim 玩家声明在其渲染时间命中目标
type HitClaim struct {
	PlayerID PlayerID
	Msg      protocol.HitClaimMsg
}

// decodeInput 把线上命令转换为 Input；载荷超长的命令整体拒绝
func decodeInput(pid PlayerID, msg protocol.InputMsg) (Input, error) {
	in := Input{PlayerID: pid, Commands: make([]netcode.InputCommand, 0, len(msg.Commands))}
	for _, c := range msg.Commands {
		cmd, err := protocol.CommandFromWire(c)
		if err != nil {
			return Input{}, err
		}
		in.Commands = append(in.Commands, cmd)
	}
	return in, nil
}
