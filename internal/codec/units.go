package codec

import (
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

const knotsToKmh = 1.852

var (
	reLatitude  = regexp.MustCompile(`^(-?)(\d{2})(\d{2}\.\d{4})$`)
	reLongitude = regexp.MustCompile(`^(-?)(\d{3}|0?\d{2})(\d{2}\.\d{4})$`)
	reStatus    = regexp.MustCompile(`^[0-9A-Fa-f]{8}$`)
)

// roundTo formats v with the given number of decimals and parses it back, so the
// result is exactly what the device-facing text representation would be.
func roundTo(v float64, decimals int) float64 {
	out, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	return out
}

// degreesMinutes converts the matched groups of a DDMM.MMMM style value.
func degreesMinutes(sign, deg, min, hemisphere string) float64 {
	d, _ := strconv.Atoi(deg)
	m, _ := strconv.ParseFloat(min, 64)
	v := roundTo(float64(d)+m/60, 6)
	if sign == "-" || hemisphere == "S" || hemisphere == "W" {
		v = -v
	}
	return v
}

// DecodeLatitude converts DDMM.MMMM (e.g. 4413.5467 = 44° 13.5467') to decimal degrees.
// Hemisphere may be empty when the caller has no hemisphere information.
func DecodeLatitude(raw, hemisphere string) (float64, error) {
	m := reLatitude.FindStringSubmatch(raw)
	if m == nil {
		return 0, fieldError("", "latitude", raw)
	}
	return degreesMinutes(m[1], m[2], m[3], hemisphere), nil
}

// DecodeLongitude converts DDDMM.MMMM to decimal degrees. The degree group is
// three digits, or two digits optionally zero-padded.
func DecodeLongitude(raw, hemisphere string) (float64, error) {
	m := reLongitude.FindStringSubmatch(raw)
	if m == nil {
		return 0, fieldError("", "longitude", raw)
	}
	return degreesMinutes(m[1], m[2], m[3], hemisphere), nil
}

// DecodeSpeed converts knots to km/h at 2 decimal precision.
func DecodeSpeed(knots string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(knots), 64)
	if err != nil || v < 0 {
		return 0, fieldError("", "speed", knots)
	}
	return roundTo(v*knotsToKmh, 2), nil
}

// DecodeBitmask reads one flag from the 8 hex character vehicle status.
// byteIndex is 1..4 left to right, bitIndex 1..8 from the least significant bit.
// The protocol uses negative logic: a cleared bit means the condition is active.
func DecodeBitmask(status string, byteIndex, bitIndex int) (bool, error) {
	if !reStatus.MatchString(status) {
		return false, fieldError("", "status", status)
	}
	if byteIndex < 1 || byteIndex > 4 || bitIndex < 1 || bitIndex > 8 {
		return false, fieldError("", "status", status)
	}
	b, _ := strconv.ParseUint(status[(byteIndex-1)*2:byteIndex*2], 16, 8)
	return b&(1<<(bitIndex-1)) == 0, nil
}

// BytesToHex renders every byte as exactly two lowercase hex characters.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}
