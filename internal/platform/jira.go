package platform

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// jiraSummarySelectors are tried in priority order when reading the issue
// title from the DOM. Atlassian renames its test ids between releases, so
// several generations are listed.
var jiraSummarySelectors = []string{
	`h1[data-testid="issue.views.issue-base.foundation.summary.heading"]`,
	`[data-testid="issue.views.issue-base.foundation.summary.heading"]`,
	`h1[data-test-id="issue.views.issue-base.foundation.summary.heading"]`,
	`h1`,
}

// Jira describes *.atlassian.net. Two URL shapes are admissible: a board
// view /jira/software/projects/{proj}/boards/{n} combined with a
// selectedIssue query parameter, and the direct /browse/{KEY} view.
func Jira() *Descriptor {
	d := &Descriptor{
		Name:      "jira",
		ControlID: "solidtime-jira-button-wrapper",
	}

	d.IsIssuePage = func(u *url.URL) bool {
		return jiraIssueKey(u) != ""
	}

	d.ExtractTitle = func(doc *goquery.Document) string {
		return firstText(doc, jiraSummarySelectors...)
	}

	d.ExtractIdentity = func(u *url.URL, doc *goquery.Document) *models.IssueIdentity {
		key := jiraIssueKey(u)
		if key == "" {
			return nil
		}

		title := d.ExtractTitle(doc)
		if title == "" {
			title = key
		}

		// The workspace name is the Atlassian subdomain.
		workspace := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".atlassian.net")

		return &models.IssueIdentity{
			IssueKey:           key,
			Title:              title,
			WorkspaceOrProject: workspace,
			SourceURL:          u.String(),
		}
	}

	d.FindAnchor = func(doc *goquery.Document) *goquery.Selection {
		for _, sel := range []string{
			`[data-testid="issue.views.issue-base.foundation.quick-add.quick-add-items-compact"]`,
			`[data-testid="issue.views.issue-base.foundation.quick-add.quick-add-items"]`,
			`[data-testid*="quick-add"]`,
		} {
			if anchor := doc.Find(sel).First(); anchor.Length() > 0 {
				return anchor
			}
		}
		return nil
	}

	d.StyleSource = func(doc *goquery.Document) *goquery.Selection {
		sel := doc.Find(`[data-testid*="quick-add"] button`).First()
		if sel.Length() == 0 {
			sel = doc.Find("button").First()
		}
		if sel.Length() == 0 {
			return nil
		}
		return sel
	}

	return d
}

// jiraIssueKey extracts the issue key from either admissible Jira URL shape,
// or "" when the URL is not an issue page.
func jiraIssueKey(u *url.URL) string {
	segments := pathSegments(u)

	// Direct issue view: /browse/{KEY}
	if len(segments) >= 2 && segments[0] == "browse" {
		if issueKeyPattern.MatchString(segments[1]) {
			return segments[1]
		}
		return ""
	}

	// Board view: /jira/software/projects/{proj}/boards/{n}?selectedIssue=KEY
	if len(segments) >= 5 && segments[0] == "jira" && segments[1] == "software" &&
		segments[2] == "projects" && segments[4] == "boards" {
		if key := u.Query().Get("selectedIssue"); issueKeyPattern.MatchString(key) {
			return key
		}
	}
	return ""
}
