package transformer

import (
	"time"

	"github.com/eddielth/digitanimal-trans/digitanimal"
)

const (
	// ObservationType tags every collar observation.
	ObservationType = "tracking-device"
	// SubjectType is the subject kind reported for collars.
	SubjectType = "vehicle"
)

// Location is a WGS84 position
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Observation is the canonical record handed to the ingestion sinks
type Observation struct {
	SourceName  string                 `json:"source_name"`
	Source      string                 `json:"source"`
	Type        string                 `json:"type"`
	SubjectType string                 `json:"subject_type"`
	RecordedAt  time.Time              `json:"recorded_at"`
	Location    Location               `json:"location"`
	Additional  map[string]interface{} `json:"additional"`
}

// Transform maps a device reading to an Observation. Collar, time and position are
// promoted to top-level fields; every other present field goes to Additional.
func Transform(reading digitanimal.DeviceReading) Observation {
	return Observation{
		SourceName:  reading.Collar,
		Source:      reading.Collar,
		Type:        ObservationType,
		SubjectType: SubjectType,
		RecordedAt:  reading.DeviceTime,
		Location: Location{
			Lat: reading.Lat,
			Lon: reading.Lng,
		},
		Additional: reading.Sensors(),
	}
}
