// Package tracker reconciles the "current time entry" pseudo-singleton
// against the remote API. The remote is authoritative; the durable store
// carries a transient optimistic mirror so the popup stays responsive while
// mutations are in flight.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/store"
)

// ErrNoOrganization is surfaced when a timer is started without an
// organization/membership selection.
var ErrNoOrganization = errors.New("please select an organization first")

// ErrNoTimer is returned by Stop when nothing is running.
var ErrNoTimer = errors.New("no timer is running")

const tempIDPrefix = "local-"

// Draft carries the fields staged in the UI for the next time entry.
type Draft struct {
	Description string
	ProjectID   *string
	TaskID      *string
	Tags        []string
	Billable    bool
}

// Tracker synchronizes timer state between the local mirror and the remote.
type Tracker struct {
	api   *api.Client
	store *store.Store

	ids *idMap
	now func() time.Time
}

// New creates a tracker bound to the shared store and the remote client.
func New(client *api.Client, st *store.Store) *Tracker {
	return &Tracker{
		api:   client,
		store: st,
		ids:   newIDMap(),
		now:   time.Now,
	}
}

// Timestamp renders t the way the remote API expects it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// CurrentEntry returns the entry considered current: the optimistic local
// mirror when one exists, otherwise the remote active entry.
func (t *Tracker) CurrentEntry(ctx context.Context) (*models.TimeEntry, error) {
	entry, err := t.store.TimeEntry(store.KeyCurrentTimeEntry)
	if err != nil {
		log.Printf("tracker: dropping unreadable current entry cache: %v", err)
		entry = nil
	}
	if entry != nil {
		return entry, nil
	}
	return t.api.ActiveTimeEntry(ctx)
}

// Start builds a new entry from the draft, stamps it with the current UTC
// instant, writes it optimistically into the shared current-entry cache under
// a temporary id, and creates it remotely without blocking the caller. The
// returned channel yields the remote outcome and is then closed; on failure
// the optimistic state is rolled back, never silently kept as truth.
func (t *Tracker) Start(ctx context.Context, draft Draft) (*models.TimeEntry, <-chan error, error) {
	sel := t.store.Selection()
	if !sel.Valid() {
		return nil, nil, ErrNoOrganization
	}

	entry := &models.TimeEntry{
		ID:             tempIDPrefix + uuid.NewString(),
		Description:    draft.Description,
		OrganizationID: sel.OrganizationID,
		MemberID:       sel.MembershipID,
		ProjectID:      draft.ProjectID,
		TaskID:         draft.TaskID,
		Tags:           draft.Tags,
		Start:          Timestamp(t.now()),
		Billable:       draft.Billable,
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}

	if err := t.store.SetTimeEntry(store.KeyCurrentTimeEntry, entry); err != nil {
		return nil, nil, fmt.Errorf("failed to cache optimistic entry: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		created, err := t.api.CreateTimeEntry(ctx, entry.OrganizationID, models.CreateTimeEntryBody{
			Description: entry.Description,
			MemberID:    entry.MemberID,
			ProjectID:   entry.ProjectID,
			TaskID:      entry.TaskID,
			Tags:        entry.Tags,
			Start:       entry.Start,
			Billable:    entry.Billable,
		})
		if err != nil {
			t.rollbackCurrent(entry.ID)
			done <- err
			return
		}

		t.ids.put(entry.ID, created.ID)

		// Replace the optimistic copy with the server's view, unless the
		// user already moved on to another entry.
		if cached, cacheErr := t.store.TimeEntry(store.KeyCurrentTimeEntry); cacheErr == nil &&
			cached != nil && cached.ID == entry.ID {
			if err := t.store.SetTimeEntry(store.KeyCurrentTimeEntry, created); err != nil {
				log.Printf("tracker: failed to reconcile current entry cache: %v", err)
			}
		}
	}()

	return entry, done, nil
}

// Stop captures the current entry, clears the local mirror immediately,
// switches the selection to the stopped entry's organization, and sends the
// end-time update asynchronously. endTime nil means now.
func (t *Tracker) Stop(ctx context.Context, endTime *time.Time) (<-chan error, error) {
	entry, err := t.CurrentEntry(ctx)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNoTimer
	}

	end := Timestamp(t.now())
	if endTime != nil {
		end = Timestamp(*endTime)
	}
	stopped := *entry
	stopped.End = &end

	if err := t.store.SetTimeEntry(store.KeyCurrentTimeEntry, nil); err != nil {
		return nil, fmt.Errorf("failed to clear current entry cache: %w", err)
	}
	if err := t.store.SetTimeEntry(store.KeyLastTimeEntry, &stopped); err != nil {
		log.Printf("tracker: failed to cache last entry: %v", err)
	}
	if err := t.store.SetSelection(models.Selection{
		OrganizationID: stopped.OrganizationID,
		MembershipID:   stopped.MemberID,
	}); err != nil {
		log.Printf("tracker: failed to switch selection: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		id, err := t.resolveID(ctx, stopped.ID)
		if err != nil {
			done <- err
			return
		}
		_, err = t.api.UpdateTimeEntry(ctx, stopped.OrganizationID, id, models.UpdateTimeEntryBody{
			End: &end,
		})
		if err != nil {
			done <- err
		}
	}()

	return done, nil
}

// ContinueLast starts a new timer seeded from the most recently observed
// entry instead of the UI draft.
func (t *Tracker) ContinueLast(ctx context.Context) (*models.TimeEntry, <-chan error, error) {
	last, err := t.store.TimeEntry(store.KeyLastTimeEntry)
	if err != nil || last == nil {
		return nil, nil, errors.New("no previous time entry to continue")
	}

	return t.Start(ctx, Draft{
		Description: last.Description,
		ProjectID:   last.ProjectID,
		TaskID:      last.TaskID,
		Tags:        last.Tags,
		Billable:    last.Billable,
	})
}

// OrganizationMismatch reports the organization id of the remote active entry
// when it differs from the selection, so the UI can offer an explicit switch
// instead of silently operating against the wrong organization.
func (t *Tracker) OrganizationMismatch(ctx context.Context) (string, error) {
	active, err := t.api.ActiveTimeEntry(ctx)
	if err != nil {
		return "", err
	}
	if active == nil {
		return "", nil
	}
	if sel := t.store.Selection(); sel.OrganizationID != "" && active.OrganizationID != sel.OrganizationID {
		return active.OrganizationID, nil
	}
	return "", nil
}

// rollbackCurrent clears the optimistic mirror if it still holds tempID.
func (t *Tracker) rollbackCurrent(tempID string) {
	cached, err := t.store.TimeEntry(store.KeyCurrentTimeEntry)
	if err != nil || cached == nil || cached.ID != tempID {
		return
	}
	if err := t.store.SetTimeEntry(store.KeyCurrentTimeEntry, nil); err != nil {
		log.Printf("tracker: failed to roll back optimistic entry: %v", err)
	}
}

// resolveID maps a temporary optimistic id to the server-confirmed id. The
// creation may still be in flight when a stop follows immediately, so the
// lookup waits briefly; as a last resort the remote active entry decides.
func (t *Tracker) resolveID(ctx context.Context, id string) (string, error) {
	if !strings.HasPrefix(id, tempIDPrefix) {
		return id, nil
	}

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if real, ok := t.ids.get(id); ok {
			return real, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			active, err := t.api.ActiveTimeEntry(ctx)
			if err == nil && active != nil {
				return active.ID, nil
			}
			return "", fmt.Errorf("failed to resolve temporary entry id %s", id)
		case <-tick.C:
		}
	}
}
