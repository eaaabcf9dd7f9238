package realm

import (
	"errors"
	"fmt"

	"skycast.gg/internal/protocol"
)

// Error is a terminal, synchronous failure with a wire-level code from
// internal/protocol. A failed call leaves all realm state untouched.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func errCode(code, format string, args ...any) *Error {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrBadRequestf builds a request validation error for callers outside the
// realm (the transport uses it for malformed ACT payloads).
func ErrBadRequestf(format string, args ...any) error {
	return errCode(protocol.ErrProtoBadRequest, format, args...)
}

// CodeOf extracts the protocol error code from err, or E_INTERNAL for
// errors that did not originate in the realm.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return protocol.ErrInternal
}

// IsCode reports whether err carries the given protocol code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
