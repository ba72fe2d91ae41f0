// Package fault defines the typed error kinds raised by the transaction
// engine, the spatial view manager and the room. Callers classify errors
// with KindOf and translate them at the transport boundary.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Unauthenticated Kind = iota + 1
	Forbidden
	NotFound
	AlreadyOwned
	AlreadyUnlocked
	OutOfRange
	InsufficientFunds
	OutOfBounds
	ValidationFailed
	RateLimited
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Forbidden:
		return "FORBIDDEN"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyOwned:
		return "ALREADY_OWNED"
	case AlreadyUnlocked:
		return "ALREADY_UNLOCKED"
	case OutOfRange:
		return "OUT_OF_RANGE"
	case InsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case OutOfBounds:
		return "OUT_OF_BOUNDS"
	case ValidationFailed:
		return "VALIDATION_FAILED"
	case RateLimited:
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Anything that is not a *fault.Error (directly or
// wrapped) is treated as an unclassified internal failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }

// HTTPStatus maps a kind to the status surfaced by the synchronous HTTP
// endpoints.
func HTTPStatus(k Kind) int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case AlreadyOwned, AlreadyUnlocked:
		return http.StatusConflict
	case OutOfRange, InsufficientFunds, OutOfBounds, ValidationFailed:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
