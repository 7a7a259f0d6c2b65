package codec

// StatusFlag addresses one bit of the vehicle status bitmask.
type StatusFlag struct {
	Name string
	Byte int
	Bit  int
}

var (
	AccessoriesOff = StatusFlag{Name: "accessories_off", Byte: 3, Bit: 3}
	CutFuel        = StatusFlag{Name: "cut_fuel", Byte: 1, Bit: 4}
	ShockAlarm     = StatusFlag{Name: "shock_alarm", Byte: 2, Bit: 2}
	BatteryCutOff  = StatusFlag{Name: "battery_cut_off", Byte: 2, Bit: 4}
	GPRSBlocked    = StatusFlag{Name: "gprs_blocked", Byte: 1, Bit: 3}
)

// Status is the decoded form of the vehicle status bitmask.
type Status struct {
	AccessoriesOff bool
	CutFuel        bool
	ShockAlarm     bool
	BatteryCutOff  bool
	GPRSBlocked    bool
}

// DecodeStatus decodes every known flag of an 8 hex character bitmask.
func DecodeStatus(raw string) (Status, error) {
	var st Status
	targets := []struct {
		flag StatusFlag
		dst  *bool
	}{
		{AccessoriesOff, &st.AccessoriesOff},
		{CutFuel, &st.CutFuel},
		{ShockAlarm, &st.ShockAlarm},
		{BatteryCutOff, &st.BatteryCutOff},
		{GPRSBlocked, &st.GPRSBlocked},
	}
	for _, t := range targets {
		v, err := DecodeBitmask(raw, t.flag.Byte, t.flag.Bit)
		if err != nil {
			return Status{}, err
		}
		*t.dst = v
	}
	return st, nil
}
