// Package protoerr defines the session-ending error kinds shared by every
// attack vector and by the proxy's accept/pump loops.
package protoerr

import (
	"errors"
	"fmt"
)

// ErrSessionTerminated signals an orderly end of conversation: a zero-length
// read on either leg. It is not a failure; callers close the session and
// stop without logging it as an error.
var ErrSessionTerminated = errors.New("session terminated")

// ViolationError is raised when the client behaves inconsistently with a
// strip the proxy already performed — e.g. it sends STARTTLS after the
// proxy hid it from the capability advertisement, or an upstream refuses
// the TLS upgrade a vector promised the client.
type ViolationError struct {
	Msg string
}

func (e *ViolationError) Error() string { return e.Msg }

// Violation builds a ViolationError from a format string, mirroring the
// "whoop!?" messages of the source this behaviour is grounded on.
func Violation(format string, args ...any) error {
	return &ViolationError{Msg: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err is (or wraps) a ViolationError.
func IsViolation(err error) bool {
	var v *ViolationError
	return errors.As(err, &v)
}
