package popup

import (
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/store"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{time.Minute, "00:01:00"},
		{61 * time.Minute, "01:01:00"},
		{25*time.Hour + 3*time.Minute + 7*time.Second, "25:03:07"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func memberships() []models.Membership {
	return []models.Membership{
		{ID: "mem-1", Organization: models.Organization{ID: "org-1", Name: "Acme"}},
		{ID: "mem-2", Organization: models.Organization{ID: "org-2", Name: "Side Hustle"}},
	}
}

func newModelWithStore(t *testing.T) (*Model, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	m := &Model{store: st, memberships: memberships()}
	return m, st
}

func TestCycleOrganization(t *testing.T) {
	m, st := newModelWithStore(t)
	m.selection = models.Selection{OrganizationID: "org-1", MembershipID: "mem-1"}

	m.cycleOrganization()
	if m.selection.OrganizationID != "org-2" || m.selection.MembershipID != "mem-2" {
		t.Errorf("selection = %+v, want org-2/mem-2", m.selection)
	}
	if sel := st.Selection(); sel != m.selection {
		t.Errorf("store selection = %+v, not persisted", sel)
	}

	// Wraps around.
	m.cycleOrganization()
	if m.selection.OrganizationID != "org-1" {
		t.Errorf("selection = %+v, want wrap to org-1", m.selection)
	}
}

func TestCycleOrganizationClearsMismatch(t *testing.T) {
	m, _ := newModelWithStore(t)
	m.selection = models.Selection{OrganizationID: "org-1", MembershipID: "mem-1"}
	m.mismatchOrg = "org-2"

	m.cycleOrganization()
	if m.mismatchOrg != "" {
		t.Errorf("mismatchOrg = %q, want cleared", m.mismatchOrg)
	}
}

func TestEnsureSelection(t *testing.T) {
	m, st := newModelWithStore(t)

	m.ensureSelection()
	if m.selection.OrganizationID != "org-1" || m.selection.MembershipID != "mem-1" {
		t.Errorf("selection = %+v, want first membership", m.selection)
	}
	if sel := st.Selection(); !sel.Valid() {
		t.Error("selection not persisted")
	}

	// An existing selection is left alone.
	m.selection = models.Selection{OrganizationID: "org-2", MembershipID: "mem-2"}
	m.ensureSelection()
	if m.selection.OrganizationID != "org-2" {
		t.Errorf("selection = %+v, want untouched", m.selection)
	}
}

func TestOrganizationName(t *testing.T) {
	m, _ := newModelWithStore(t)

	if got := m.organizationName("org-2"); got != "Side Hustle" {
		t.Errorf("organizationName = %q", got)
	}
	// Unknown ids fall back to the raw id.
	if got := m.organizationName("org-9"); got != "org-9" {
		t.Errorf("organizationName = %q", got)
	}
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	nm, cmd := m.Update(msg)
	return nm.(Model), cmd
}

func typeKeys(t *testing.T, m Model, keys ...tea.KeyMsg) Model {
	t.Helper()
	for _, k := range keys {
		m, _ = press(t, m, k)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDraftDescriptionEditing(t *testing.T) {
	var m Model

	m = typeKeys(t, m,
		runes("d"),
		runes("Fix"),
		tea.KeyMsg{Type: tea.KeySpace},
		runes("bug"),
		tea.KeyMsg{Type: tea.KeyBackspace},
	)
	if !m.editing {
		t.Fatal("d did not enter the description entry mode")
	}
	if m.draftDesc != "Fix bu" {
		t.Fatalf("draft = %q, want %q", m.draftDesc, "Fix bu")
	}

	m = typeKeys(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.editing {
		t.Error("enter did not leave the entry mode")
	}
	if m.draftDesc != "Fix bu" {
		t.Errorf("draft = %q, want kept after enter", m.draftDesc)
	}
}

func TestDraftDescriptionDiscardedOnEsc(t *testing.T) {
	var m Model

	m = typeKeys(t, m, runes("d"), runes("abandoned"), tea.KeyMsg{Type: tea.KeyEsc})
	if m.editing {
		t.Error("esc did not leave the entry mode")
	}
	if m.draftDesc != "" {
		t.Errorf("draft = %q, want discarded", m.draftDesc)
	}
}

func TestDraftDescriptionConsumedByStart(t *testing.T) {
	var m Model
	m = typeKeys(t, m, runes("d"), runes("deep work"), tea.KeyMsg{Type: tea.KeyEnter})

	// q and other command keys are plain keys again once the entry mode is
	// closed.
	m, cmd := press(t, m, runes("s"))
	if cmd == nil {
		t.Fatal("s did not produce a start command")
	}
	if m.draftDesc != "" {
		t.Errorf("draft = %q, want cleared once handed to the timer", m.draftDesc)
	}
}
