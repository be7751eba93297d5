// Package sync pulls remote organizations, projects and time entries into
// the local cache database.
package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/db"
	"github.com/solidtime-io/tracker-companion/internal/tracker"
)

// Syncer handles syncing remote solidtime data to the local database
type Syncer struct {
	db     *db.DB
	client *api.Client
}

// New creates a new syncer
func New(database *db.DB, client *api.Client) *Syncer {
	return &Syncer{
		db:     database,
		client: client,
	}
}

// SyncAll syncs every organization the user is a member of.
func (s *Syncer) SyncAll(ctx context.Context) error {
	memberships, err := s.client.Memberships(ctx)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}

	for _, m := range memberships {
		if err := s.SyncOrganization(ctx, m.Organization.ID); err != nil {
			log.Printf("Failed to sync organization %s: %v", m.Organization.Name, err)
			// Continue with other organizations even if one fails
			continue
		}
	}
	return nil
}

// SyncOrganization syncs one organization's projects and recent time entries
// to the local database
func (s *Syncer) SyncOrganization(ctx context.Context, orgID string) error {
	memberships, err := s.client.Memberships(ctx)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range memberships {
		if m.Organization.ID == orgID {
			if err := s.db.SaveOrganization(&m.Organization); err != nil {
				return fmt.Errorf("failed to save organization: %w", err)
			}
		}
	}

	projects, err := s.client.Projects(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	for i := range projects {
		if err := s.db.SaveProject(&projects[i], orgID); err != nil {
			return fmt.Errorf("failed to save project %s: %w", projects[i].Name, err)
		}
	}

	lastSync, err := s.db.GetLastSyncTime(orgID)
	if err != nil {
		return err
	}
	log.Printf("Syncing organization %s (last sync: %v)", orgID, lastSync)

	opts := api.TimeEntryListOptions{}
	if !lastSync.IsZero() {
		opts.Start = tracker.Timestamp(lastSync)
	}

	entries, err := s.client.ListTimeEntries(ctx, orgID, opts)
	if err != nil {
		return fmt.Errorf("failed to list time entries: %w", err)
	}

	for i := range entries {
		if err := s.db.SaveTimeEntry(&entries[i]); err != nil {
			return fmt.Errorf("failed to save time entry %s: %w", entries[i].ID, err)
		}
	}
	log.Printf("Saved %d time entries for organization %s", len(entries), orgID)

	return s.db.UpdateLastSyncTime(orgID, time.Now().UTC())
}
