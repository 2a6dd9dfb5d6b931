package protocol

import "arenasync/netcode"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrProtoCodec      = "E_PROTO_CODEC"

	// Intake.
	ErrRateLimit = "E_RATE_LIMIT"
	ErrStale     = "E_STALE"

	// Hit claims.
	ErrHistoryExpired    = "E_HISTORY_EXPIRED"
	ErrObservationAhead  = "E_OBSERVATION_AHEAD"
	ErrInvalidTarget     = "E_INVALID_TARGET"
	ErrOutOfRange        = "E_OUT_OF_RANGE"
	ErrDuplicateClaim    = "E_DUPLICATE_CLAIM"
	ErrProtocolViolation = "E_PROTOCOL_VIOLATION"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrProtoVersion:      {},
	ErrProtoCodec:        {},
	ErrRateLimit:         {},
	ErrStale:             {},
	ErrHistoryExpired:    {},
	ErrObservationAhead:  {},
	ErrInvalidTarget:     {},
	ErrOutOfRange:        {},
	ErrDuplicateClaim:    {},
	ErrProtocolViolation: {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor 把 netcode 错误映射为线上错误码
func CodeFor(err error) string {
	if err == nil {
		return ""
	}
	switch netcode.CodeOf(err) {
	case netcode.CodeHistoryExpired:
		return ErrHistoryExpired
	case netcode.CodeObservationAhead:
		return ErrObservationAhead
	case netcode.CodeEntityMissing:
		return ErrInvalidTarget
	case netcode.CodeStaleSnapshot:
		return ErrStale
	case netcode.CodeProtocolViolation:
		return ErrProtocolViolation
	}
	return ErrInternal
}
