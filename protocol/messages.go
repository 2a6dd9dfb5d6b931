package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	Codec           string `json:"codec,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	PlayerID        string        `json:"player_id"`
	EntityID        string        `json:"entity_id"`
	Tick            uint32        `json:"tick"`
	World           WorldParams   `json:"world"`
	Netcode         NetcodeParams `json:"netcode"`
}

type WorldParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Step       float64 `json:"step"`
	Spawn      Vec2    `json:"spawn"`
}

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NetcodeParams 服务端建议的客户端参数，时长以毫秒表示
type NetcodeParams struct {
	HistoryCapacity           int   `json:"history_capacity"`
	InterpolationDelayMs      int64 `json:"interpolation_delay_ms"`
	MaxExtrapolationHorizonMs int64 `json:"max_extrapolation_horizon_ms"`
	MaxPendingInputs          int   `json:"max_pending_inputs"`
	InputBufferCapacity       int   `json:"input_buffer_capacity"`
	InputRedundancy           int   `json:"input_redundancy"`
}

// INPUT (client -> server, unreliable)
// Commands 为未确认输入的尾部，按 seq 递增，服务端去重。
type InputMsg struct {
	Type     string         `json:"type"`
	Commands []InputCommand `json:"commands"`
}

type InputCommand struct {
	Seq        uint16 `json:"seq"`
	ClientTick uint32 `json:"client_tick"`
	Payload    []byte `json:"payload"`
}

// SNAPSHOT (server -> client, unreliable)
type SnapshotMsg struct {
	Type                  string      `json:"type"`
	Tick                  uint32      `json:"tick"`
	LastProcessedInputSeq uint16      `json:"last_processed_input_seq"`
	HasAck                bool        `json:"has_ack"`
	Entities              []EntityMsg `json:"entities"`
}

type EntityMsg struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// HIT_CLAIM (client -> server, reliable)
// ObservationTick 为声明者当时的渲染时间（可带小数）。
type HitClaimMsg struct {
	Type            string  `json:"type"`
	ClaimID         string  `json:"claim_id"`
	Target          string  `json:"target"`
	ObservationTick float64 `json:"observation_tick"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

// HIT_VERDICT (server -> client, reliable)
type HitVerdictMsg struct {
	Type     string `json:"type"`
	ClaimID  string `json:"claim_id"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Tick     uint32 `json:"tick"`
}

type HeartbeatMsg struct {
	Type string `json:"type"`
	Tick uint32 `json:"tick"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
