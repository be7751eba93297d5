package platform

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// Plane describes self-hosted Plane instances. Two URL shapes are
// admissible: /{workspace}/browse/{KEY} and /{workspace}/projects/{id}/issues/.
// The second shape does not carry the issue key, so it must be scraped from
// the rendered DOM.
func Plane() *Descriptor {
	d := &Descriptor{
		Name:      "plane",
		ControlID: "solidtime-plane-tracking-btn",
	}

	d.IsIssuePage = func(u *url.URL) bool {
		return planeBrowseKey(u) != "" || planeProjectIssuesPage(u)
	}

	d.ExtractTitle = func(doc *goquery.Document) string {
		for _, sel := range []string{`input[name="name"]`, `textarea[name="name"]`} {
			if value, ok := doc.Find(sel).First().Attr("value"); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
		return ""
	}

	d.ExtractIdentity = func(u *url.URL, doc *goquery.Document) *models.IssueIdentity {
		key := planeBrowseKey(u)
		if key == "" && planeProjectIssuesPage(u) {
			key = planeScrapeKey(doc)
		}
		if key == "" {
			return nil
		}

		title := d.ExtractTitle(doc)
		if title == "" {
			title = key
		}

		workspace := ""
		if segments := pathSegments(u); len(segments) > 0 {
			workspace = segments[0]
		}

		return &models.IssueIdentity{
			IssueKey:           key,
			Title:              title,
			WorkspaceOrProject: workspace,
			SourceURL:          u.String(),
		}
	}

	d.FindAnchor = func(doc *goquery.Document) *goquery.Selection {
		// Anchor next to the "Add relation" button in the issue detail pane.
		node := elementWithText(doc, "button", "Add relation")
		if node.Length() == 0 {
			node = elementWithText(doc, "span, div", "Add relation")
		}
		if node.Length() == 0 {
			return nil
		}
		if parent := node.Parent(); parent.Length() > 0 {
			return parent
		}
		return node
	}

	d.StyleSource = func(doc *goquery.Document) *goquery.Selection {
		sel := elementWithText(doc, "button", "Add relation")
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

// planeBrowseKey extracts the issue key from /{workspace}/browse/{KEY}.
func planeBrowseKey(u *url.URL) string {
	segments := pathSegments(u)
	if len(segments) >= 3 && segments[1] == "browse" && issueKeyPattern.MatchString(segments[2]) {
		return segments[2]
	}
	return ""
}

// planeProjectIssuesPage matches /{workspace}/projects/{projectId}/issues/.
func planeProjectIssuesPage(u *url.URL) bool {
	segments := pathSegments(u)
	return len(segments) >= 4 && segments[1] == "projects" && segments[3] == "issues"
}

// planeScrapeKey hunts the rendered DOM for the issue identifier badge. Plane
// gives the badge no stable id, so this matches any small element whose class
// mentions "issue" and whose entire text is an issue key.
func planeScrapeKey(doc *goquery.Document) string {
	key := ""
	doc.Find(`[class*="issue"] span, [class*="issue"], span`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if issueKeyPattern.MatchString(text) {
			key = text
			return false
		}
		return true
	})
	return key
}
