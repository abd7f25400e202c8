package digitanimal

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Field names used by the vendor payload.
const (
	FieldCollar           = "DEVICE_COLLAR"
	FieldLat              = "LAT"
	FieldLng              = "LNG"
	FieldTime             = "DEVICE_TIME"
	FieldAlarm            = "DEVICE_ALARM"
	FieldLocation         = "DEVICE_LOCATION"
	FieldTemperature      = "DEVICE_TEMPERATURE"
	FieldDistance         = "DEVICE_DISTANCE"
	FieldActivity         = "DEVICE_ACTIVITY"
	FieldPosition         = "DEVICE_POSITION"
	FieldRawTemperature   = "RAW_TEMPERATURE"
	FieldRawAccelerationX = "RAW_ACC_X"
	FieldRawAccelerationY = "RAW_ACC_Y"
	FieldRawAccelerationZ = "RAW_ACC_Z"
)

// deviceTimeLayouts are tried in order; layouts without a zone yield UTC wall clock values.
var deviceTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// DeviceReading is one telemetry record reported by a collar.
type DeviceReading struct {
	Collar     string
	Lat        float64
	Lng        float64
	DeviceTime time.Time

	Alarm       *bool
	Location    *bool
	Temperature *bool
	Distance    *bool
	Activity    *bool
	Position    *bool

	RawTemperature *float64
	RawAccX        *float64
	RawAccY        *float64
	RawAccZ        *float64
}

// Sensors returns the optional fields that are present, keyed by their vendor name.
func (r DeviceReading) Sensors() map[string]interface{} {
	out := make(map[string]interface{})
	flags := []struct {
		name  string
		value *bool
	}{
		{FieldAlarm, r.Alarm},
		{FieldLocation, r.Location},
		{FieldTemperature, r.Temperature},
		{FieldDistance, r.Distance},
		{FieldActivity, r.Activity},
		{FieldPosition, r.Position},
	}
	for _, f := range flags {
		if f.value != nil {
			out[f.name] = *f.value
		}
	}
	numbers := []struct {
		name  string
		value *float64
	}{
		{FieldRawTemperature, r.RawTemperature},
		{FieldRawAccelerationX, r.RawAccX},
		{FieldRawAccelerationY, r.RawAccY},
		{FieldRawAccelerationZ, r.RawAccZ},
	}
	for _, n := range numbers {
		if n.value != nil {
			out[n.name] = *n.value
		}
	}
	return out
}

type wireReading struct {
	Collar     json.RawMessage `json:"DEVICE_COLLAR"`
	Lat        number          `json:"LAT"`
	Lng        number          `json:"LNG"`
	DeviceTime string          `json:"DEVICE_TIME"`

	Alarm       *flag `json:"DEVICE_ALARM"`
	Location    *flag `json:"DEVICE_LOCATION"`
	Temperature *flag `json:"DEVICE_TEMPERATURE"`
	Distance    *flag `json:"DEVICE_DISTANCE"`
	Activity    *flag `json:"DEVICE_ACTIVITY"`
	Position    *flag `json:"DEVICE_POSITION"`

	RawTemperature *number `json:"RAW_TEMPERATURE"`
	RawAccX        *number `json:"RAW_ACC_X"`
	RawAccY        *number `json:"RAW_ACC_Y"`
	RawAccZ        *number `json:"RAW_ACC_Z"`
}

// UnmarshalJSON decodes a vendor record, coercing loosely typed values.
func (r *DeviceReading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	collar, err := decodeCollar(w.Collar)
	if err != nil {
		return err
	}
	deviceTime, err := ParseDeviceTime(w.DeviceTime)
	if err != nil {
		return err
	}

	*r = DeviceReading{
		Collar:         collar,
		Lat:            float64(w.Lat),
		Lng:            float64(w.Lng),
		DeviceTime:     deviceTime,
		Alarm:          w.Alarm.toBool(),
		Location:       w.Location.toBool(),
		Temperature:    w.Temperature.toBool(),
		Distance:       w.Distance.toBool(),
		Activity:       w.Activity.toBool(),
		Position:       w.Position.toBool(),
		RawTemperature: w.RawTemperature.toFloat(),
		RawAccX:        w.RawAccX.toFloat(),
		RawAccY:        w.RawAccY.toFloat(),
		RawAccZ:        w.RawAccZ.toFloat(),
	}
	return nil
}

// MarshalJSON encodes the reading with vendor field names, omitting absent sensors.
func (r DeviceReading) MarshalJSON() ([]byte, error) {
	out := r.Sensors()
	out[FieldCollar] = r.Collar
	out[FieldLat] = r.Lat
	out[FieldLng] = r.Lng
	out[FieldTime] = r.DeviceTime.Format("2006-01-02 15:04:05")
	return json.Marshal(out)
}

func decodeCollar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%s is required", FieldCollar)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%s: %w", FieldCollar, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%s must be a string: %w", FieldCollar, err)
	}
	return n.String(), nil
}

// ParseDeviceTime parses the vendor timestamp formats.
func ParseDeviceTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", FieldTime)
	}
	for _, layout := range deviceTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: unsupported time format %q", FieldTime, value)
}

// flag accepts JSON booleans, 0/1 numbers and their string spellings.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	text := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch text {
	case "true", "1", "yes", "on", "t", "y":
		*f = true
	case "false", "0", "no", "off", "f", "n":
		*f = false
	default:
		return fmt.Errorf("invalid boolean value %s", data)
	}
	return nil
}

func (f *flag) toBool() *bool {
	if f == nil {
		return nil
	}
	b := bool(*f)
	return &b
}

// number accepts JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("invalid number value %s", data)
	}
	*n = number(v)
	return nil
}

func (n *number) toFloat() *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

// Payload holds the two independent reading lists of a response.
type Payload struct {
	Devices []DeviceReading `json:"devices"`
	History []DeviceReading `json:"history"`
}

// PullResponse is the get_device_info.php envelope.
type PullResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    Payload `json:"data"`
}

// CurrentSnapshot is the interpretation of the current devices list.
// It is either Authenticated or NoDevicesOrBadAuth.
type CurrentSnapshot interface {
	isCurrentSnapshot()
}

// Authenticated carries the readings of an authenticated account with active devices.
type Authenticated struct {
	Devices []DeviceReading
}

// NoDevicesOrBadAuth means the vendor returned no current devices. The vendor uses
// this for bad credentials and for inactive accounts alike.
type NoDevicesOrBadAuth struct {
	Message string
}

func (Authenticated) isCurrentSnapshot()      {}
func (NoDevicesOrBadAuth) isCurrentSnapshot() {}

// Current classifies the devices list of the response.
func (r *PullResponse) Current() CurrentSnapshot {
	if r == nil || len(r.Data.Devices) == 0 {
		msg := ""
		if r != nil {
			msg = r.Message
		}
		return NoDevicesOrBadAuth{Message: msg}
	}
	return Authenticated{Devices: r.Data.Devices}
}
