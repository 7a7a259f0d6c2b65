package codec

import (
	"regexp"
	"unicode/utf8"
)

// asciiPattern is the full text record:
// *HQ,serial,V1,hhmmss,A,DDMM.MMMM,N,DDDMM.MMMM,E,speed,heading,ddmmyy,status,mcc,mnc,lac,cell[,extra]#
var asciiPattern = regexp.MustCompile(`^\*([A-Z]+),(\d{10}),(V\d),(\d{6}),(A|V),(-?\d{4}.\d{4}),(N|S),(-?\d{4,5}.\d{4}),(E|W),(\d{1,3}\.\d{2}),(\d{1,3}),(\d{6}),([0-9A-Fa-f]+),(\d+),(\d+),(\d+),(\d+)(,\d+)?#$`)

// Command confirmations carry "V4,S20,OK,<command time>" where a location record has "V1".
var confirmationPattern = regexp.MustCompile(`V4,[A-Z]\d+,(?:OK|DONE),\d{6}`)

const (
	grpMaker = iota + 1
	grpSerial
	grpTag
	grpTime
	grpValidity
	grpLatitude
	grpLatHemisphere
	grpLongitude
	grpLonHemisphere
	grpSpeed
	grpDirection
	grpDate
	grpStatus
	grpMCC
	grpMNC
	grpLAC
	grpCell
)

// IsConfirmation reports whether an ASCII record is a command confirmation.
func IsConfirmation(raw []byte) bool {
	return confirmationPattern.Match(raw)
}

func decodeASCII(raw []byte) (*Location, error) {
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Mode: string(ModeASCII), Value: string(raw), Err: ErrEncoding}
	}
	text := string(raw)

	normalized := confirmationPattern.ReplaceAllLiteralString(text, "V1")
	m := asciiPattern.FindStringSubmatch(normalized)
	if m == nil {
		return nil, &DecodeError{Mode: string(ModeASCII), Value: text, Err: ErrDecode}
	}

	lat, err := DecodeLatitude(m[grpLatitude], m[grpLatHemisphere])
	if err != nil {
		return nil, withMode(err, ModeASCII)
	}
	lon, err := DecodeLongitude(m[grpLongitude], m[grpLonHemisphere])
	if err != nil {
		return nil, withMode(err, ModeASCII)
	}
	speed, err := DecodeSpeed(m[grpSpeed])
	if err != nil {
		return nil, withMode(err, ModeASCII)
	}
	st, err := DecodeStatus(m[grpStatus])
	if err != nil {
		return nil, withMode(err, ModeASCII)
	}

	loc := &Location{
		Latitude:           lat,
		Longitude:          lon,
		RawData:            text,
		Maker:              m[grpMaker],
		DeviceSerialNumber: m[grpSerial],
		Time:               m[grpTime],
		Valid:              m[grpValidity] == "A",
		Speed:              speed,
		Direction:          m[grpDirection],
		MobileCountryCode:  m[grpMCC],
		MobileNetworkCode:  m[grpMNC],
		LocalAreaCode:      m[grpLAC],
		CellID:             m[grpCell],
		Mode:               ModeASCII,
	}
	loc.applyStatus(st)
	return loc, nil
}
