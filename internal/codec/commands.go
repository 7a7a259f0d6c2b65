package codec

import (
	"fmt"
	"time"
)

// CommandTimeLayout is the hhmmss stamp H02 downlink frames carry.
const CommandTimeLayout = "150405"

// Ack builds the R12 reply sent after every accepted location record.
// hhmmss echoes the time field of the record being acknowledged.
func Ack(serial, hhmmss string) []byte {
	return []byte(fmt.Sprintf("*HQ,%s,R12,%s#", serial, hhmmss))
}

// ClearAlarms builds the R7 frame that clears alarms and makes a device with
// blocked GPRS resume reporting.
func ClearAlarms(serial string, now time.Time) []byte {
	return []byte(fmt.Sprintf("*HQ,%s,R7,%s#", serial, now.Format(CommandTimeLayout)))
}

// FuelCommand builds the S20 relay frame: cut=true stops the fuel pump, false restores it.
func FuelCommand(serial string, now time.Time, cut bool) []byte {
	state := 0
	if cut {
		state = 1
	}
	return []byte(fmt.Sprintf("*HQ,%s,S20,%s,1,%d#", serial, now.Format(CommandTimeLayout), state))
}
