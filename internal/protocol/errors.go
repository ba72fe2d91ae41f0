package protocol

import "infinityworld.gg/internal/fault"

// Stable wire error codes carried in actionError messages.
const (
	ErrUnauthenticated   = "E_UNAUTHENTICATED"
	ErrForbidden         = "E_FORBIDDEN"
	ErrNotFound          = "E_NOT_FOUND"
	ErrAlreadyOwned      = "E_ALREADY_OWNED"
	ErrAlreadyUnlocked   = "E_ALREADY_UNLOCKED"
	ErrOutOfRange        = "E_OUT_OF_RANGE"
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrOutOfBounds       = "E_OUT_OF_BOUNDS"
	ErrValidation        = "E_VALIDATION"
	ErrRateLimit         = "E_RATE_LIMIT"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrUnauthenticated:   {},
	ErrForbidden:         {},
	ErrNotFound:          {},
	ErrAlreadyOwned:      {},
	ErrAlreadyUnlocked:   {},
	ErrOutOfRange:        {},
	ErrInsufficientFunds: {},
	ErrOutOfBounds:       {},
	ErrValidation:        {},
	ErrRateLimit:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a classified error to its wire code.
func CodeFor(err error) string {
	switch fault.KindOf(err) {
	case fault.Unauthenticated:
		return ErrUnauthenticated
	case fault.Forbidden:
		return ErrForbidden
	case fault.NotFound:
		return ErrNotFound
	case fault.AlreadyOwned:
		return ErrAlreadyOwned
	case fault.AlreadyUnlocked:
		return ErrAlreadyUnlocked
	case fault.OutOfRange:
		return ErrOutOfRange
	case fault.InsufficientFunds:
		return ErrInsufficientFunds
	case fault.OutOfBounds:
		return ErrOutOfBounds
	case fault.ValidationFailed:
		return ErrValidation
	case fault.RateLimited:
		return ErrRateLimit
	default:
		return ErrInternal
	}
}
