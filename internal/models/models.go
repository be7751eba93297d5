package models

// IssueIdentity identifies the issue shown on a tracker page. It is derived
// from the page URL and DOM on every navigation and never persisted.
type IssueIdentity struct {
	IssueKey           string `json:"issueKey"`
	Title              string `json:"title"`
	WorkspaceOrProject string `json:"workspaceOrProject"`
	SourceURL          string `json:"sourceUrl"`
}

// Session holds the OAuth token pair. An empty RefreshToken means logged out.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoggedIn reports whether the session can still be refreshed.
func (s Session) LoggedIn() bool {
	return s.RefreshToken != ""
}

// TimeEntry represents a solidtime time entry. The remote API is the source
// of truth; local copies are caches.
type TimeEntry struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	MemberID       string   `json:"member_id"`
	ProjectID      *string  `json:"project_id"`
	TaskID         *string  `json:"task_id"`
	Tags           []string `json:"tags"`
	Start          string   `json:"start"`
	End            *string  `json:"end"`
	Duration       *int64   `json:"duration"`
	Billable       bool     `json:"billable"`
}

// Active reports whether the entry is currently running.
func (e TimeEntry) Active() bool {
	return e.Start != "" && e.End == nil
}

// Empty reports whether the entry is the not-started sentinel.
func (e TimeEntry) Empty() bool {
	return e.ID == ""
}

// CreateTimeEntryBody is the request body for creating a time entry.
type CreateTimeEntryBody struct {
	Description string   `json:"description"`
	MemberID    string   `json:"member_id"`
	ProjectID   *string  `json:"project_id,omitempty"`
	TaskID      *string  `json:"task_id,omitempty"`
	Tags        []string `json:"tags"`
	Start       string   `json:"start"`
	End         *string  `json:"end,omitempty"`
	Billable    bool     `json:"billable"`
}

// UpdateTimeEntryBody is the request body for updating a time entry. Nil
// fields are left untouched by the remote.
type UpdateTimeEntryBody struct {
	Description *string  `json:"description,omitempty"`
	ProjectID   *string  `json:"project_id,omitempty"`
	TaskID      *string  `json:"task_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Start       *string  `json:"start,omitempty"`
	End         *string  `json:"end,omitempty"`
	Billable    *bool    `json:"billable,omitempty"`
}

// Organization represents a solidtime organization.
type Organization struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency,omitempty"`
}

// Membership links the authenticated user to an organization.
type Membership struct {
	ID           string       `json:"id"`
	Organization Organization `json:"organization"`
	Role         string       `json:"role"`
}

// Selection is the organization/membership pair chosen in the popup and read
// by content-script surfaces when creating a time entry.
type Selection struct {
	OrganizationID string `json:"organizationId"`
	MembershipID   string `json:"membershipId"`
}

// Valid reports whether a timer may be attributed to this selection.
func (s Selection) Valid() bool {
	return s.OrganizationID != "" && s.MembershipID != ""
}

// Project represents a solidtime project.
type Project struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	ClientID   *string `json:"client_id"`
	IsArchived bool    `json:"is_archived"`
	IsBillable bool    `json:"is_billable"`
}

// Task represents a task within a project.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
	IsDone    bool   `json:"is_done"`
}

// Tag represents a time-entry tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client represents a solidtime client record.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents the authenticated solidtime user.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
