package dispatcher

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gps-station/internal/codec"
	"gps-station/internal/link"
)

// Definition describes one symbolic command the station knows how to frame.
type Definition struct {
	Name  string
	Build func(serial string, now time.Time) []byte
}

const rawCommand = "RAW"

var catalogue = map[string]Definition{}

// RegisterCommand adds or replaces a symbolic command. Not safe for use after startup.
func RegisterCommand(s Definition) {
	catalogue[s.Name] = s
}

func init() {
	RegisterCommand(Definition{Name: "CUT_FUEL", Build: func(serial string, now time.Time) []byte {
		return codec.FuelCommand(serial, now, true)
	}})
	RegisterCommand(Definition{Name: "ENABLE_FUEL", Build: func(serial string, now time.Time) []byte {
		return codec.FuelCommand(serial, now, false)
	}})
	RegisterCommand(Definition{Name: "CLEAR_ALARMS", Build: codec.ClearAlarms})
}

var reSerial = regexp.MustCompile(`^\d{10}$`)

// Command is a downlink request for one device. ID is empty for commands that
// did not come from the backend.
type Command struct {
	ID       link.CommandID
	DeviceID string
	Code     string
}

func FromBackend(c link.Command) Command {
	return Command{ID: c.ID, DeviceID: c.DeviceSerialNumber, Code: strings.TrimSpace(c.Code)}
}

// ParseOperatorCommand parses "H02,<serial>,<CODE>" as typed by an operator.
func ParseOperatorCommand(text string) (Command, error) {
	parts := strings.Split(strings.TrimSpace(text), ",")
	if len(parts) != 3 {
		return Command{}, fmt.Errorf("%w: want H02,<serial>,<command>: %q", ErrUnknownCommand, text)
	}
	proto, serial, code := strings.ToUpper(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1]), strings.ToUpper(strings.TrimSpace(parts[2]))
	if proto != "H02" {
		return Command{}, fmt.Errorf("%w: protocol %q", ErrUnknownCommand, parts[0])
	}
	if !reSerial.MatchString(serial) {
		return Command{}, fmt.Errorf("%w: serial %q", ErrUnknownCommand, serial)
	}
	if _, ok := catalogue[code]; !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, code)
	}
	return Command{DeviceID: serial, Code: code}, nil
}

// Name is the catalogue name of the command, or RAW for a literal frame.
func (c Command) Name() string {
	if _, ok := catalogue[strings.ToUpper(c.Code)]; ok {
		return strings.ToUpper(c.Code)
	}
	return rawCommand
}

// Frame renders the bytes written to the device. Literal "*HQ,...#" frames are
// passed through only when addressed to the command's device.
func (c Command) Frame(now time.Time) ([]byte, error) {
	if def, ok := catalogue[strings.ToUpper(c.Code)]; ok {
		return def.Build(c.DeviceID, now), nil
	}
	if strings.HasPrefix(c.Code, "*HQ,"+c.DeviceID+",") && strings.HasSuffix(c.Code, "#") {
		return []byte(c.Code), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Code)
}
