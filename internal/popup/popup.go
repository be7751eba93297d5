// Package popup is the companion's interactive timer surface. It mirrors the
// browser extension popup: it polls the remote for the current entry, starts
// and stops timers through the synchronizer, and owns the organization
// selection keys in the shared store.
package popup

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/session"
	"github.com/solidtime-io/tracker-companion/internal/store"
	"github.com/solidtime-io/tracker-companion/internal/tracker"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F7DC6F"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(1, 2)
)

type tickMsg time.Time

type activeEntryMsg struct {
	entry *models.TimeEntry
	err   error
}

type membershipsMsg struct {
	memberships []models.Membership
	err         error
}

type mutationDoneMsg struct{ err error }

type mismatchMsg struct{ orgID string }

// Model is the bubbletea model for the popup.
type Model struct {
	tracker *tracker.Tracker
	client  *api.Client
	store   *store.Store
	session *session.Manager

	width  int
	height int

	entry       *models.TimeEntry
	memberships []models.Membership
	selection   models.Selection
	mismatchOrg string
	statusErr   error
	needsLogin  bool

	// draftDesc is staged through the d key and consumed by the next start.
	draftDesc string
	editing   bool
}

// New creates the popup model.
func New(tr *tracker.Tracker, client *api.Client, st *store.Store, sess *session.Manager) Model {
	return Model{
		tracker:   tr,
		client:    client,
		store:     st,
		session:   sess,
		selection: st.Selection(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchActive(), m.fetchMemberships(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchActive() tea.Cmd {
	tr := m.tracker
	return func() tea.Msg {
		entry, err := tr.CurrentEntry(context.Background())
		return activeEntryMsg{entry: entry, err: err}
	}
}

func (m Model) fetchMemberships() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		memberships, err := client.Memberships(context.Background())
		return membershipsMsg{memberships: memberships, err: err}
	}
}

func (m Model) checkMismatch() tea.Cmd {
	tr := m.tracker
	return func() tea.Msg {
		orgID, err := tr.OrganizationMismatch(context.Background())
		if err != nil || orgID == "" {
			return nil
		}
		return mismatchMsg{orgID: orgID}
	}
}

func (m Model) startTimer() tea.Cmd {
	tr := m.tracker
	desc := m.draftDesc
	return func() tea.Msg {
		_, done, err := tr.Start(context.Background(), tracker.Draft{Description: desc})
		if err != nil {
			return mutationDoneMsg{err: err}
		}
		return mutationDoneMsg{err: <-done}
	}
}

func (m Model) stopTimer() tea.Cmd {
	tr := m.tracker
	return func() tea.Msg {
		done, err := tr.Stop(context.Background(), nil)
		if err != nil {
			return mutationDoneMsg{err: err}
		}
		return mutationDoneMsg{err: <-done}
	}
}

func (m Model) continueLast() tea.Cmd {
	tr := m.tracker
	return func() tea.Msg {
		_, done, err := tr.ContinueLast(context.Background())
		if err != nil {
			return mutationDoneMsg{err: err}
		}
		return mutationDoneMsg{err: <-done}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			if msg.Type == tea.KeyCtrlC {
				return m, tea.Quit
			}
			m.editDraft(msg)
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if m.entry != nil && m.entry.Active() {
				return m, m.stopTimer()
			}
			cmd := m.startTimer()
			m.draftDesc = ""
			return m, cmd
		case "c":
			return m, m.continueLast()
		case "d":
			m.editing = true
		case "o":
			m.cycleOrganization()
			return m, m.checkMismatch()
		case "r":
			return m, tea.Batch(m.fetchActive(), m.fetchMemberships())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Elapsed time redraws every second; remote state refreshes on a
		// slower cadence through explicit actions and mutations.
		return m, tickCmd()

	case activeEntryMsg:
		m.statusErr = msg.err
		m.needsLogin = msg.err != nil && api.IsAuthError(msg.err)
		if msg.err == nil {
			m.entry = msg.entry
		}
		return m, m.checkMismatch()

	case membershipsMsg:
		if msg.err == nil {
			m.memberships = msg.memberships
			m.ensureSelection()
		}

	case mutationDoneMsg:
		m.statusErr = msg.err
		m.needsLogin = msg.err != nil && api.IsAuthError(msg.err)
		// Any mutation invalidates the cached view; re-fetch remote truth.
		return m, m.fetchActive()

	case mismatchMsg:
		m.mismatchOrg = msg.orgID
	}

	return m, nil
}

// editDraft applies one keystroke of the description entry mode. Enter keeps
// the draft for the next start, esc discards it.
func (m *Model) editDraft(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
	case tea.KeyEsc:
		m.editing = false
		m.draftDesc = ""
	case tea.KeyBackspace:
		if r := []rune(m.draftDesc); len(r) > 0 {
			m.draftDesc = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.draftDesc += " "
	case tea.KeyRunes:
		m.draftDesc += string(msg.Runes)
	}
}

// cycleOrganization advances the selection to the next membership and writes
// it to the shared store (the popup owns the selection keys).
func (m *Model) cycleOrganization() {
	if len(m.memberships) == 0 {
		return
	}

	next := 0
	for i, mem := range m.memberships {
		if mem.Organization.ID == m.selection.OrganizationID {
			next = (i + 1) % len(m.memberships)
			break
		}
	}

	mem := m.memberships[next]
	m.selection = models.Selection{
		OrganizationID: mem.Organization.ID,
		MembershipID:   mem.ID,
	}
	m.mismatchOrg = ""
	m.store.SetSelection(m.selection)
}

// ensureSelection picks the first membership when nothing is selected yet.
func (m *Model) ensureSelection() {
	if m.selection.Valid() || len(m.memberships) == 0 {
		return
	}
	mem := m.memberships[0]
	m.selection = models.Selection{
		OrganizationID: mem.Organization.ID,
		MembershipID:   mem.ID,
	}
	m.store.SetSelection(m.selection)
}

func (m Model) organizationName(orgID string) string {
	for _, mem := range m.memberships {
		if mem.Organization.ID == orgID {
			return mem.Organization.Name
		}
	}
	return orgID
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render("solidtime")

	var lines []string
	if !m.session.LoggedIn() || m.needsLogin {
		lines = append(lines,
			stoppedStyle.Render("Not logged in."),
			"",
			"Run `companion -login` to connect your solidtime account.",
		)
	} else {
		lines = append(lines, m.timerView()...)
	}

	if m.mismatchOrg != "" {
		lines = append(lines, "",
			warnStyle.Render(fmt.Sprintf(
				"The running timer belongs to %q. Press o to switch organizations.",
				m.organizationName(m.mismatchOrg))))
	}
	if m.statusErr != nil && !m.needsLogin {
		lines = append(lines, "", stoppedStyle.Render(m.statusErr.Error()))
	}

	body := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	helpText := "s: start/stop  c: continue last  d: description  o: switch org  r: refresh  q: quit"
	if m.editing {
		helpText = "enter: keep description  esc: discard"
	}
	help := helpStyle.Render(helpText)

	return lipgloss.JoinVertical(lipgloss.Left, title, body, help)
}

func (m Model) timerView() []string {
	org := m.organizationName(m.selection.OrganizationID)
	if org == "" {
		org = "(no organization selected)"
	}

	if m.entry == nil || !m.entry.Active() {
		lines := []string{
			stoppedStyle.Render("⏹ No timer running"),
			"",
			"Organization: " + org,
		}
		switch {
		case m.editing:
			lines = append(lines, "Description: "+m.draftDesc+"▌")
		case m.draftDesc != "":
			lines = append(lines, "Description: "+m.draftDesc)
		}
		return lines
	}

	elapsed := time.Duration(0)
	if start, err := time.Parse(time.RFC3339, m.entry.Start); err == nil {
		elapsed = time.Since(start).Round(time.Second)
	}

	desc := m.entry.Description
	if desc == "" {
		desc = "(no description)"
	}

	return []string{
		runningStyle.Render(fmt.Sprintf("⏱ %s", formatDuration(elapsed))),
		"",
		"Tracking: " + desc,
		"Organization: " + org,
	}
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	mi := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, mi, s)
}
