package actions

import (
	"fmt"

	"github.com/eddielth/digitanimal-trans/digitanimal"
)

// ActionError attaches the integration context to a failed action. The
// credentials print with the password masked.
type ActionError struct {
	Action        string
	IntegrationID string
	RunID         string
	Credentials   digitanimal.Credentials
	Err           error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed for integration %s using %s: %v", e.Action, e.IntegrationID, e.Credentials, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
