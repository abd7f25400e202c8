package digitanimal

import (
	"fmt"
	"net/url"
	"time"
)

const maskedPassword = "**********"

// RequestDateLayout is the format of the init_date and end_date query parameters.
const RequestDateLayout = "2006-01-02 15:04:05"

// Credentials are the basic-auth username and password of a vendor account.
// The password is only reachable through Password and never printed.
type Credentials struct {
	Username string
	password string
}

// NewCredentials builds Credentials
func NewCredentials(username, password string) Credentials {
	return Credentials{Username: username, password: password}
}

// Password returns the secret password
func (c Credentials) Password() string {
	return c.password
}

func (c Credentials) String() string {
	return fmt.Sprintf("username=%s password=%s", c.Username, maskedPassword)
}

// GoString keeps %#v from exposing the password.
func (c Credentials) GoString() string {
	return fmt.Sprintf("digitanimal.Credentials{Username:%q, password:%q}", c.Username, maskedPassword)
}

// DateRange bounds a historical query.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Query renders the range as init_date/end_date parameters.
func (r DateRange) Query() url.Values {
	q := url.Values{}
	q.Set("init_date", r.Start.Format(RequestDateLayout))
	q.Set("end_date", r.End.Format(RequestDateLayout))
	return q
}
