package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session state.
	ErrUnknownPlayer = "E_UNKNOWN_PLAYER"
	ErrDisabled      = "E_DISABLED"

	// Command layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrReserved   = "E_RESERVED"
	ErrConflict   = "E_CONFLICT"
	ErrLimit      = "E_LIMIT"
	ErrNotFound   = "E_NOT_FOUND"
	ErrNoIcon     = "E_NO_ICON"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownPlayer:   {},
	ErrDisabled:        {},
	ErrBadRequest:      {},
	ErrReserved:        {},
	ErrConflict:        {},
	ErrLimit:           {},
	ErrNotFound:        {},
	ErrNoIcon:          {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
