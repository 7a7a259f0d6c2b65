package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrBadProtocol: packet does not start with '*' or '$'.
	ErrBadProtocol = errors.New("bad protocol marker")
	// ErrDecode: recognised marker but malformed payload.
	ErrDecode = errors.New("decode failed")
	// ErrEncoding: non-text bytes where an ASCII record was expected.
	ErrEncoding = errors.New("invalid encoding")
)

// DecodeError describes which part of a packet could not be decoded.
type DecodeError struct {
	Mode  string // "ascii", "binary" or "" when the marker itself is wrong
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("h02 %s: %v: %q", e.Mode, e.Err, e.Value)
	case e.Mode == "":
		return fmt.Sprintf("h02 %s: %v: %q", e.Field, e.Err, e.Value)
	default:
		return fmt.Sprintf("h02 %s %s: %v: %q", e.Mode, e.Field, e.Err, e.Value)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func fieldError(mode, field, value string) error {
	return &DecodeError{Mode: mode, Field: field, Value: value, Err: ErrDecode}
}

// IsRecoverable reports whether err is a protocol-level failure that should only
// count against a session's error budget.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrBadProtocol) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrEncoding)
}
