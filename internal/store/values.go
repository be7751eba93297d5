package store

import (
	"encoding/json"
	"fmt"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// Selection returns the organization/membership pair selected in the popup.
// The zero value means no selection has been made yet.
func (s *Store) Selection() models.Selection {
	return models.Selection{
		OrganizationID: s.Get(KeyOrganizationID),
		MembershipID:   s.Get(KeyMembershipID),
	}
}

// SetSelection persists the popup's organization/membership choice.
func (s *Store) SetSelection(sel models.Selection) error {
	return s.SetMany(map[string]string{
		KeyOrganizationID: sel.OrganizationID,
		KeyMembershipID:   sel.MembershipID,
	})
}

// TimeEntry decodes the time entry cached under key, or nil when the key is
// absent or empty.
func (s *Store) TimeEntry(key string) (*models.TimeEntry, error) {
	raw := s.Get(key)
	if raw == "" {
		return nil, nil
	}

	var entry models.TimeEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached time entry %q: %w", key, err)
	}
	return &entry, nil
}

// SetTimeEntry caches entry under key. A nil entry clears the key.
func (s *Store) SetTimeEntry(key string, entry *models.TimeEntry) error {
	if entry == nil {
		return s.Delete(key)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode time entry for %q: %w", key, err)
	}
	return s.Set(key, string(data))
}
