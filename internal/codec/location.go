package codec

// Mode is the H02 sub-encoding a packet arrived in.
type Mode string

const (
	ModeASCII  Mode = "ascii"
	ModeBinary Mode = "binary"
)

// Placeholders emitted for fields the binary (standard mode) frame does not carry.
const (
	BinaryDirection         = "100"
	BinaryMobileCountryCode = "000"
	BinaryMobileNetworkCode = "00"
	BinaryLocalAreaCode     = "000"
	BinaryCellID            = "0000"
)

// Maker is the manufacturer code carried by every H02 record.
const Maker = "HQ"

// Location is one fully decoded H02 packet. Values are never mutated after Decode returns.
type Location struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	RawData            string  `json:"raw_data"`
	Maker              string  `json:"maker"`
	DeviceSerialNumber string  `json:"device_serial_number"`
	Time               string  `json:"time"` // HHMMSS as reported by the device
	Valid              bool    `json:"valid"`
	Speed              float64 `json:"speed"` // km/h
	AccessoriesOff     bool    `json:"accessories_off"`
	Direction          string  `json:"direction"`
	MobileCountryCode  string  `json:"mobile_country_code"`
	MobileNetworkCode  string  `json:"mobile_network_code"`
	LocalAreaCode      string  `json:"local_area_code"`
	CellID             string  `json:"cell_id"`
	CutFuel            bool    `json:"cut_fuel"`
	ShockAlarm         bool    `json:"shock_alarm"`
	BatteryCutOff      bool    `json:"battery_cut_off"`

	GPRSBlocked bool `json:"-"`
	Mode        Mode `json:"-"`
}

func (l *Location) applyStatus(st Status) {
	l.AccessoriesOff = st.AccessoriesOff
	l.CutFuel = st.CutFuel
	l.ShockAlarm = st.ShockAlarm
	l.BatteryCutOff = st.BatteryCutOff
	l.GPRSBlocked = st.GPRSBlocked
}
