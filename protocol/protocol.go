package protocol

const Version = "1.0"

// Message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypeInput      = "INPUT"
	TypeSnapshot   = "SNAPSHOT"
	TypeHitClaim   = "HIT_CLAIM"
	TypeHitVerdict = "HIT_VERDICT"
	TypeHeartbeat  = "HEARTBEAT"
	TypeError      = "ERROR"
)

// Channel 消息的投递语义。传输层可以对不可靠通道丢包、乱序。
type Channel int

const (
	Unreliable Channel = iota
	Reliable
)

func (c Channel) String() string {
	if c == Reliable {
		return "reliable"
	}
	return "unreliable"
}

// ChannelFor 按消息类型选择通道：输入与快照走不可靠通道，其余可靠
func ChannelFor(msgType string) Channel {
	switch msgType {
	case TypeInput, TypeSnapshot, TypeHeartbeat:
		return Unreliable
	default:
		return Reliable
	}
}

// BaseMessage lets us route unknown messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(c Codec, b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := c.Unmarshal(b, &m)
	return m, err
}
