package codec

import (
	"errors"
)

const (
	markerASCII  = '*'
	markerBinary = '$'
)

// Decode turns one raw H02 record into a Location. The leading byte selects the
// sub-mode: '*' for the comma separated text record, '$' for the 45 byte binary one.
func Decode(raw []byte) (*Location, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Field: "marker", Err: ErrBadProtocol}
	}
	switch raw[0] {
	case markerASCII:
		return decodeASCII(raw)
	case markerBinary:
		return decodeBinary(raw)
	default:
		return nil, &DecodeError{Field: "marker", Value: string(raw[:1]), Err: ErrBadProtocol}
	}
}

func withMode(err error, mode Mode) error {
	var de *DecodeError
	if errors.As(err, &de) && de.Mode == "" {
		cp := *de
		cp.Mode = string(mode)
		return &cp
	}
	return err
}
