package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BinaryFrameLen is the fixed size of a standard mode record, '$' included.
const BinaryFrameLen = 45

// standard mode byte offsets
const (
	offSerial    = 0x01
	offTime      = 0x06
	offDate      = 0x09
	offLatitude  = 0x0C
	offLongitude = 0x11
	offSpeed     = 0x16
	offStatus    = 0x19
)

// standard mode longitude flag nibble
const (
	flagValid = 1 << 1
	flagNorth = 1 << 2
	flagEast  = 1 << 3
)

var reBCD = regexp.MustCompile(`^\d+$`)

// safeRead avoids a panic when the offset runs past the buffer.
func safeRead(data []byte, offset, length int) ([]byte, error) {
	if offset+length > len(data) {
		return nil, fmt.Errorf("buffer overflow: tried to read %d bytes at offset %d (len=%d)", length, offset, len(data))
	}
	return data[offset : offset+length], nil
}

func hexField(data []byte, name string, offset, length int) (string, error) {
	b, err := safeRead(data, offset, length)
	if err != nil {
		return "", &DecodeError{Mode: string(ModeBinary), Field: name, Value: err.Error(), Err: ErrDecode}
	}
	return BytesToHex(b), nil
}

func decodeBinary(raw []byte) (*Location, error) {
	if len(raw) != BinaryFrameLen {
		return nil, &DecodeError{
			Mode:  string(ModeBinary),
			Field: "length",
			Value: strconv.Itoa(len(raw)),
			Err:   ErrDecode,
		}
	}

	serial, err := hexField(raw, "serial", offSerial, 5)
	if err != nil {
		return nil, err
	}
	if !reBCD.MatchString(serial) {
		return nil, fieldError(string(ModeBinary), "serial", serial)
	}
	tm, err := hexField(raw, "time", offTime, 3)
	if err != nil {
		return nil, err
	}
	if !reBCD.MatchString(tm) {
		return nil, fieldError(string(ModeBinary), "time", tm)
	}

	latHex, err := hexField(raw, "latitude", offLatitude, 4)
	if err != nil {
		return nil, err
	}
	lonHex, err := hexField(raw, "longitude", offLongitude, 5)
	if err != nil {
		return nil, err
	}
	flags, err := strconv.ParseUint(lonHex[9:], 16, 8)
	if err != nil {
		return nil, fieldError(string(ModeBinary), "flags", lonHex)
	}
	latHemisphere, lonHemisphere := "S", "W"
	if flags&flagNorth != 0 {
		latHemisphere = "N"
	}
	if flags&flagEast != 0 {
		lonHemisphere = "E"
	}

	lat, err := DecodeLatitude(latHex[0:4]+"."+latHex[4:], latHemisphere)
	if err != nil {
		return nil, withMode(err, ModeBinary)
	}
	lon, err := DecodeLongitude(lonHex[0:5]+"."+lonHex[5:9], lonHemisphere)
	if err != nil {
		return nil, withMode(err, ModeBinary)
	}

	speedHex, err := hexField(raw, "speed", offSpeed, 3)
	if err != nil {
		return nil, err
	}
	speed, err := DecodeSpeed(speedHex[0:3])
	if err != nil {
		return nil, withMode(err, ModeBinary)
	}

	statusHex, err := hexField(raw, "status", offStatus, 4)
	if err != nil {
		return nil, err
	}
	st, err := DecodeStatus(statusHex)
	if err != nil {
		return nil, withMode(err, ModeBinary)
	}

	loc := &Location{
		Latitude:           lat,
		Longitude:          lon,
		RawData:            joinDecimal(raw),
		Maker:              Maker,
		DeviceSerialNumber: serial,
		Time:               tm,
		Valid:              flags&flagValid != 0,
		Speed:              speed,
		Direction:          BinaryDirection,
		MobileCountryCode:  BinaryMobileCountryCode,
		MobileNetworkCode:  BinaryMobileNetworkCode,
		LocalAreaCode:      BinaryLocalAreaCode,
		CellID:             BinaryCellID,
		Mode:               ModeBinary,
	}
	loc.applyStatus(st)
	return loc, nil
}

// joinDecimal renders raw bytes as a comma separated list of decimal values.
func joinDecimal(raw []byte) string {
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ",")
}
