package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// GitHub describes github.com issue pages: /{owner}/{repo}/issues/{number}.
// The issue key is "owner/repo#number", which is stable for the lifetime of
// the issue.
func GitHub() *Descriptor {
	d := &Descriptor{
		Name:      "github",
		ControlID: "solidtime-github-tracking-btn",
	}

	d.IsIssuePage = func(u *url.URL) bool {
		_, _, n := githubIssueRef(u)
		return n > 0
	}

	d.ExtractTitle = func(doc *goquery.Document) string {
		return firstText(doc,
			`h1 bdi.js-issue-title`,
			`.js-issue-title`,
			`h1[data-testid="issue-title"]`,
		)
	}

	d.ExtractIdentity = func(u *url.URL, doc *goquery.Document) *models.IssueIdentity {
		owner, repo, n := githubIssueRef(u)
		if n == 0 {
			return nil
		}

		key := fmt.Sprintf("%s/%s#%d", owner, repo, n)
		title := d.ExtractTitle(doc)
		if title == "" {
			title = key
		}

		return &models.IssueIdentity{
			IssueKey:           key,
			Title:              title,
			WorkspaceOrProject: owner + "/" + repo,
			SourceURL:          u.String(),
		}
	}

	d.FindAnchor = func(doc *goquery.Document) *goquery.Selection {
		for _, sel := range []string{`#partial-discussion-sidebar`, `[data-testid="sidebar-section"]`} {
			if anchor := doc.Find(sel).First(); anchor.Length() > 0 {
				return anchor
			}
		}
		return nil
	}

	d.StyleSource = func(doc *goquery.Document) *goquery.Selection {
		sel := doc.Find("button.btn").First()
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

func githubIssueRef(u *url.URL) (owner, repo string, number int) {
	segments := pathSegments(u)
	if len(segments) != 4 || segments[2] != "issues" {
		return "", "", 0
	}
	n, err := strconv.Atoi(segments[3])
	if err != nil || n <= 0 {
		return "", "", 0
	}
	return segments[0], segments[1], n
}

// TitleEnricher resolves exact GitHub issue titles through the REST API. The
// DOM-scraped title is used when no token is configured or the lookup fails.
type TitleEnricher struct {
	client *github.Client
}

// NewTitleEnricher creates an enricher; token may be empty for anonymous,
// rate-limited access.
func NewTitleEnricher(token string) *TitleEnricher {
	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &TitleEnricher{client: github.NewClient(tc)}
}

// Enrich replaces the identity title with the API's view of it when the
// identity points at a GitHub issue. Failures leave the identity untouched.
func (e *TitleEnricher) Enrich(ctx context.Context, id *models.IssueIdentity) {
	if id == nil {
		return
	}
	owner, repo, number, ok := splitGitHubKey(id.IssueKey)
	if !ok {
		return
	}

	issue, _, err := e.client.Issues.Get(ctx, owner, repo, number)
	if err != nil || issue.GetTitle() == "" {
		return
	}
	id.Title = issue.GetTitle()
}

func splitGitHubKey(key string) (owner, repo string, number int, ok bool) {
	slash := strings.IndexByte(key, '/')
	hash := strings.IndexByte(key, '#')
	if slash <= 0 || hash <= slash+1 || hash == len(key)-1 {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(key[hash+1:])
	if err != nil || n <= 0 {
		return "", "", 0, false
	}
	return key[:slash], key[slash+1 : hash], n, true
}
