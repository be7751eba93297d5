// Package api implements the solidtime REST client used by every companion
// surface. Authentication failures are retried once through the session
// refresh coordinator; a second 401 is terminal.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/session"
)

// APIError describes a non-2xx response from the solidtime API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.StatusCode)
}

// IsAuthError reports whether err is a terminal authentication failure.
func IsAuthError(err error) bool {
	if errors.Is(err, session.ErrUnauthenticated) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client is a solidtime API client bound to one instance endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Manager
}

// NewClient creates a new solidtime API client.
func NewClient(endpoint string, sess *session.Manager) *Client {
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		session: sess,
	}
}

// envelope is the {"data": ...} wrapper solidtime puts around responses.
type envelope[T any] struct {
	Data T `json:"data"`
}

// do performs one authenticated request, decoding the response into out when
// out is non-nil. On 401 it refreshes the session and retries the original
// request exactly once.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	retried := false
	token := c.session.AccessToken()
	for {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			retried = true
			token, err = c.session.Refresh(ctx)
			if err != nil {
				return err
			}
			continue
		}

		return decodeResponse(resp, out)
	}
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var resp envelope[models.User]
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &resp.Data, nil
}

// Memberships lists the authenticated user's organization memberships.
func (c *Client) Memberships(ctx context.Context) ([]models.Membership, error) {
	var resp envelope[[]models.Membership]
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me/memberships", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return resp.Data, nil
}

// ActiveTimeEntry returns the currently running time entry, or nil when no
// timer is running.
func (c *Client) ActiveTimeEntry(ctx context.Context) (*models.TimeEntry, error) {
	var resp envelope[models.TimeEntry]
	err := c.do(ctx, http.MethodGet, "/api/v1/users/me/time-entries/active", nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active time entry: %w", err)
	}
	if !resp.Data.Active() {
		return nil, nil
	}
	return &resp.Data, nil
}

// TimeEntryListOptions narrows a time entry listing.
type TimeEntryListOptions struct {
	Start  string
	End    string
	Active *bool
	Limit  int
}

// ListTimeEntries lists time entries of an organization.
func (c *Client) ListTimeEntries(ctx context.Context, orgID string, opts TimeEntryListOptions) ([]models.TimeEntry, error) {
	q := url.Values{}
	if opts.Start != "" {
		q.Set("start", opts.Start)
	}
	if opts.End != "" {
		q.Set("end", opts.End)
	}
	if opts.Active != nil {
		q.Set("active", fmt.Sprintf("%t", *opts.Active))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	path := fmt.Sprintf("/api/v1/organizations/%s/time-entries", url.PathEscape(orgID))
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp envelope[[]models.TimeEntry]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list time entries: %w", err)
	}
	return resp.Data, nil
}

// CreateTimeEntry creates a time entry in an organization.
func (c *Client) CreateTimeEntry(ctx context.Context, orgID string, body models.CreateTimeEntryBody) (*models.TimeEntry, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/time-entries", url.PathEscape(orgID))

	var resp envelope[models.TimeEntry]
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create time entry: %w", err)
	}
	return &resp.Data, nil
}

// UpdateTimeEntry updates a time entry, typically to set its end time.
func (c *Client) UpdateTimeEntry(ctx context.Context, orgID, entryID string, body models.UpdateTimeEntryBody) (*models.TimeEntry, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/time-entries/%s", url.PathEscape(orgID), url.PathEscape(entryID))

	var resp envelope[models.TimeEntry]
	if err := c.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to update time entry: %w", err)
	}
	return &resp.Data, nil
}

// DeleteTimeEntry deletes a time entry.
func (c *Client) DeleteTimeEntry(ctx context.Context, orgID, entryID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/time-entries/%s", url.PathEscape(orgID), url.PathEscape(entryID))

	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
	}
	return nil
}

// Projects lists the projects of an organization.
func (c *Client) Projects(ctx context.Context, orgID string) ([]models.Project, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/projects", url.PathEscape(orgID))

	var resp envelope[[]models.Project]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return resp.Data, nil
}

// CreateProject creates a project in an organization.
func (c *Client) CreateProject(ctx context.Context, orgID, name, color string) (*models.Project, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/projects", url.PathEscape(orgID))
	body := map[string]interface{}{
		"name":        name,
		"color":       color,
		"is_billable": false,
	}

	var resp envelope[models.Project]
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &resp.Data, nil
}

// Tasks lists the tasks of an organization.
func (c *Client) Tasks(ctx context.Context, orgID string) ([]models.Task, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/tasks", url.PathEscape(orgID))

	var resp envelope[[]models.Task]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return resp.Data, nil
}

// Tags lists the tags of an organization.
func (c *Client) Tags(ctx context.Context, orgID string) ([]models.Tag, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/tags", url.PathEscape(orgID))

	var resp envelope[[]models.Tag]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return resp.Data, nil
}

// CreateTag creates a tag in an organization.
func (c *Client) CreateTag(ctx context.Context, orgID, name string) (*models.Tag, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/tags", url.PathEscape(orgID))

	var resp envelope[models.Tag]
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}
	return &resp.Data, nil
}

// Clients lists the client records of an organization.
func (c *Client) Clients(ctx context.Context, orgID string) ([]models.Client, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/clients", url.PathEscape(orgID))

	var resp envelope[[]models.Client]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return resp.Data, nil
}

// CreateClient creates a client record in an organization.
func (c *Client) CreateClient(ctx context.Context, orgID, name string) (*models.Client, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/clients", url.PathEscape(orgID))

	var resp envelope[models.Client]
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &resp.Data, nil
}
