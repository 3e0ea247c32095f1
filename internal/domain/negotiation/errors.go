package negotiation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies participant-facing failures so callers can make an
// automated retry decision.
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindState         ErrorKind = "STATE"
	KindAuthorization ErrorKind = "AUTHORIZATION"
	KindTimeout       ErrorKind = "TIMEOUT"
	KindConflict      ErrorKind = "CONFLICT"
)

// Error is a classified, pre-append rejection. No ledger message exists for
// an action that failed with one of these.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func ValidationErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func StateErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func AuthorizationErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func TimeoutErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func ConflictErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrChainCorrupt is fatal for a session: the message-hash chain failed
// verification and no automated repair is attempted.
var ErrChainCorrupt = errors.New("message hash chain is corrupt")

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")
