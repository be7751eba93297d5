package platform

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// Linear describes linear.app. Issue pages look like
// /{workspace}/issue/{KEY} or /{workspace}/issue/{KEY}/{slug}.
func Linear() *Descriptor {
	d := &Descriptor{
		Name:      "linear",
		ControlID: "solidtime-time-tracking-section",
	}

	d.IsIssuePage = func(u *url.URL) bool {
		return linearIssueKey(u) != ""
	}

	d.ExtractTitle = func(doc *goquery.Document) string {
		// The live editable title node is preferred: the URL slug can be
		// stale or truncated after the issue was renamed.
		title := doc.Find(`[role="textbox"][aria-label="Issue title"]`).First().Text()
		return strings.TrimSpace(title)
	}

	d.ExtractIdentity = func(u *url.URL, doc *goquery.Document) *models.IssueIdentity {
		key := linearIssueKey(u)
		if key == "" {
			return nil
		}

		title := d.ExtractTitle(doc)
		if title == "" {
			if segments := pathSegments(u); len(segments) >= 4 {
				title = segments[3]
			}
		}
		if title == "" {
			title = key
		}

		return &models.IssueIdentity{
			IssueKey:           key,
			Title:              title,
			WorkspaceOrProject: projectPrefix(key),
			SourceURL:          u.String(),
		}
	}

	d.FindAnchor = func(doc *goquery.Document) *goquery.Selection {
		// The issue sidebar is the section that also carries the Labels,
		// Cycle and Project rows; anchor on the container of one of those
		// labels.
		for _, label := range []string{"Labels", "Cycle", "Project"} {
			node := elementWithText(doc, "span, div", label)
			if node.Length() > 0 {
				if parent := node.ParentsFiltered("div").First(); parent.Length() > 0 {
					return parent
				}
			}
		}
		return nil
	}

	d.StyleSource = func(doc *goquery.Document) *goquery.Selection {
		sel := doc.Find(`button[aria-label="Add label"]`).First()
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

// linearIssueKey extracts the issue key from a linear.app URL, or "" when the
// URL is not an issue page.
func linearIssueKey(u *url.URL) string {
	segments := pathSegments(u)
	if len(segments) < 3 || segments[1] != "issue" {
		return ""
	}
	if !issueKeyPattern.MatchString(segments[2]) {
		return ""
	}
	return segments[2]
}

// elementWithText finds the first element matching selector whose own trimmed
// text equals text.
func elementWithText(doc *goquery.Document, selector, text string) *goquery.Selection {
	return doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == text
	}).First()
}
