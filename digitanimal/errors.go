package digitanimal

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPoolTimeout is returned when no connection slot frees up within the pool timeout.
var ErrPoolTimeout = errors.New("digitanimal: timed out waiting for a connection slot")

// HTTPStatusError is returned for any non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("digitanimal: API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("digitanimal: API returned status %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the status is 401 or 403.
func (e *HTTPStatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ValidationError is returned when the response body is not a well-formed envelope.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("digitanimal: invalid response: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}
