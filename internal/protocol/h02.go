package protocol

import (
	"bufio"
	"time"

	"gps-station/internal/codec"
)

// H02 speaks the HQ text protocol and its 45-byte binary standard mode.
type H02 struct {
	Threshold int
	Now       func() time.Time
}

func NewH02(threshold int) *H02 {
	if threshold <= 0 {
		threshold = DefaultExceptionThreshold
	}
	return &H02{Threshold: threshold, Now: time.Now}
}

func (p *H02) Name() string { return "H02" }

// BytesIsSelf accepts a sample whose first record decodes cleanly.
func (p *H02) BytesIsSelf(sample []byte) bool {
	frame := codec.FirstFrame(sample)
	if frame == nil {
		return false
	}
	_, err := codec.Decode(frame)
	return err == nil
}

func (p *H02) Decode(raw []byte) (*codec.Location, error) {
	return codec.Decode(raw)
}

func (p *H02) ReadFrame(r *bufio.Reader) ([]byte, error) {
	return codec.ReadFrame(r)
}

// Ack answers every record with R12 echoing its time. A device reporting
// blocked GPRS gets R7 instead so it clears its alarms and keeps reporting.
func (p *H02) Ack(loc *codec.Location) []byte {
	if loc == nil {
		return nil
	}
	if loc.GPRSBlocked {
		return codec.ClearAlarms(loc.DeviceSerialNumber, p.Now())
	}
	return codec.Ack(loc.DeviceSerialNumber, loc.Time)
}

func (p *H02) ExceptionThreshold() int { return p.Threshold }
