package pipeline

// TrackingObject is the outbound view of a decoded record used by the live feed,
// the gRPC forwarder and the NATS bus.
type TrackingObject struct {
	IMEI       string `json:"imei"`
	Mode       string `json:"mode"`
	DeviceTime string `json:"device_time"` // HHMMSS as reported
	ReceivedAt string `json:"received_at"`

	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Spd   float64 `json:"spd"`
	Crs   string  `json:"crs"`
	Valid bool    `json:"valid"`
	Fix   int     `json:"fix"` // 1 when the device reports a fix and coordinates are sane

	Status map[string]bool `json:"status"`

	MCC  string `json:"mcc,omitempty"`
	MNC  string `json:"mnc,omitempty"`
	LAC  string `json:"lac,omitempty"`
	Cell string `json:"cell,omitempty"`
}
