package actions

import (
	json "github.com/goccy/go-json"
)

// PullResult is the outcome of a pull action. It encodes as either
// {"observations_extracted": n} or {"devices_triggered": 0}.
type PullResult struct {
	ObservationsExtracted int
	// NoDevices is set when the vendor returned no readings, which also covers
	// bad credentials and inactive accounts.
	NoDevices bool
}

func (r PullResult) MarshalJSON() ([]byte, error) {
	if r.NoDevices {
		return json.Marshal(map[string]int{"devices_triggered": 0})
	}
	return json.Marshal(map[string]int{"observations_extracted": r.ObservationsExtracted})
}

// AuthResult is the outcome of the auth check. It encodes as
// {"valid_credentials": bool[, "message": ...]} or {"error": true, "status_code": n}.
type AuthResult struct {
	ValidCredentials bool
	Message          string
	Error            bool
	StatusCode       int
}

func (r AuthResult) MarshalJSON() ([]byte, error) {
	if r.Error {
		return json.Marshal(struct {
			Error      bool `json:"error"`
			StatusCode int  `json:"status_code"`
		}{true, r.StatusCode})
	}
	return json.Marshal(struct {
		ValidCredentials bool   `json:"valid_credentials"`
		Message          string `json:"message,omitempty"`
	}{r.ValidCredentials, r.Message})
}
