package actions

import (
	"fmt"
	"math"
	"time"

	"github.com/eddielth/digitanimal-trans/digitanimal"
	"github.com/eddielth/digitanimal-trans/storage"
)

// watermarkField is the only field of a pull_observations state entry.
const watermarkField = "latest_device_datetime"

// bindOffset attaches a fixed UTC offset of offsetHours to the wall clock of t.
// The clock reading is kept; only its zone changes.
func bindOffset(t time.Time, offsetHours float64) time.Time {
	seconds := int(math.Round(offsetHours * 3600))
	zone := time.FixedZone("", seconds)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

func watermarkState(t time.Time) storage.State {
	return storage.State{watermarkField: t.Format(time.RFC3339Nano)}
}

// parseWatermark returns the stored timestamp. Values without a zone are read as UTC.
func parseWatermark(state storage.State) (time.Time, bool, error) {
	if state == nil {
		return time.Time{}, false, nil
	}
	raw, ok := state[watermarkField]
	if !ok || raw == nil {
		return time.Time{}, false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%s is %T, want string", watermarkField, raw)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true, nil
	}
	t, err := digitanimal.ParseDeviceTime(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", watermarkField, err)
	}
	return t, true, nil
}
