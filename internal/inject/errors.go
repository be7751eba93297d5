package inject

import (
	"errors"

	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/tracker"
)

var errNoIdentity = errors.New("could not identify the issue on this page")

// userMessage maps an action failure to the alert text shown in the host
// page. Authentication and selection problems get actionable wording; other
// failures keep their own message.
func userMessage(err error) string {
	switch {
	case api.IsAuthError(err):
		return "Please make sure you are logged in to solidtime."
	case errors.Is(err, tracker.ErrNoOrganization):
		return "Please select an organization in the solidtime popup first."
	default:
		return err.Error()
	}
}
