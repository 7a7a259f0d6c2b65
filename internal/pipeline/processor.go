package pipeline

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"gps-station/internal/codec"
)

func coordsValid(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

func CalcFix(valid bool, lat, lon float64) int {
	if valid && coordsValid(lat, lon) {
		return 1
	}
	return 0
}

func BuildTracking(loc *codec.Location, receivedAt time.Time) *TrackingObject {
	return &TrackingObject{
		IMEI:       loc.DeviceSerialNumber,
		Mode:       string(loc.Mode),
		DeviceTime: loc.Time,
		ReceivedAt: receivedAt.UTC().Format(time.RFC3339),
		Lat:        loc.Latitude,
		Lon:        loc.Longitude,
		Spd:        loc.Speed,
		Crs:        loc.Direction,
		Valid:      loc.Valid,
		Fix:        CalcFix(loc.Valid, loc.Latitude, loc.Longitude),
		Status: map[string]bool{
			codec.AccessoriesOff.Name: loc.AccessoriesOff,
			codec.CutFuel.Name:        loc.CutFuel,
			codec.ShockAlarm.Name:     loc.ShockAlarm,
			codec.BatteryCutOff.Name:  loc.BatteryCutOff,
			codec.GPRSBlocked.Name:    loc.GPRSBlocked,
		},
		MCC:  loc.MobileCountryCode,
		MNC:  loc.MobileNetworkCode,
		LAC:  loc.LocalAreaCode,
		Cell: loc.CellID,
	}
}

// ToForm flattens a record into the key/value form the backend stores.
func ToForm(loc *codec.Location) url.Values {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	b := strconv.FormatBool

	return url.Values{
		"latitude":             {f(loc.Latitude)},
		"longitude":            {f(loc.Longitude)},
		"raw_data":             {loc.RawData},
		"maker":                {loc.Maker},
		"device_serial_number": {loc.DeviceSerialNumber},
		"time":                 {loc.Time},
		"valid":                {b(loc.Valid)},
		"speed":                {f(loc.Speed)},
		"accessories_off":      {b(loc.AccessoriesOff)},
		"direction":            {loc.Direction},
		"mobile_country_code":  {loc.MobileCountryCode},
		"mobile_network_code":  {loc.MobileNetworkCode},
		"local_area_code":      {loc.LocalAreaCode},
		"cell_id":              {loc.CellID},
		"cut_fuel":             {b(loc.CutFuel)},
		"shock_alarm":          {b(loc.ShockAlarm)},
		"battery_cut_off":      {b(loc.BatteryCutOff)},
	}
}

func ToJSON(tr *TrackingObject) ([]byte, error) {
	return json.Marshal(tr)
}

// ToStruct converts a tracking object to a protobuf Struct for the gRPC forwarder.
func ToStruct(tr *TrackingObject) (*structpb.Struct, error) {
	status := make(map[string]any, len(tr.Status))
	for k, v := range tr.Status {
		status[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"imei":        tr.IMEI,
		"mode":        tr.Mode,
		"device_time": tr.DeviceTime,
		"received_at": tr.ReceivedAt,
		"lat":         tr.Lat,
		"lon":         tr.Lon,
		"spd":         tr.Spd,
		"crs":         tr.Crs,
		"valid":       tr.Valid,
		"fix":         tr.Fix,
		"status":      status,
		"mcc":         tr.MCC,
		"mnc":         tr.MNC,
		"lac":         tr.LAC,
		"cell":        tr.Cell,
	})
}
