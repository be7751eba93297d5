package tracker

import (
	"context"
	"fmt"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// The methods below back the injected control's click handler. Unlike the
// popup path they mutate the remote synchronously and write nothing locally:
// the injected control always re-queries remote truth on re-render.

// IsTracking reports whether a timer is running on the remote.
func (t *Tracker) IsTracking(ctx context.Context) (bool, error) {
	active, err := t.api.ActiveTimeEntry(ctx)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// StartForIssue creates a running time entry for the issue under the
// selected organization/membership. The entry description concatenates the
// issue key and title.
func (t *Tracker) StartForIssue(ctx context.Context, id *models.IssueIdentity) error {
	sel := t.store.Selection()
	if !sel.Valid() {
		return ErrNoOrganization
	}

	description := id.IssueKey
	if id.Title != "" && id.Title != id.IssueKey {
		description = fmt.Sprintf("%s: %s", id.IssueKey, id.Title)
	}

	_, err := t.api.CreateTimeEntry(ctx, sel.OrganizationID, models.CreateTimeEntryBody{
		Description: description,
		MemberID:    sel.MembershipID,
		Tags:        []string{},
		Start:       Timestamp(t.now()),
		Billable:    false,
	})
	return err
}

// StopActive fetches the remote active entry and ends it now.
func (t *Tracker) StopActive(ctx context.Context) error {
	active, err := t.api.ActiveTimeEntry(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return ErrNoTimer
	}

	end := Timestamp(t.now())
	_, err = t.api.UpdateTimeEntry(ctx, active.OrganizationID, active.ID, models.UpdateTimeEntryBody{
		End: &end,
	})
	return err
}
