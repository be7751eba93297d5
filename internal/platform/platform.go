// Package platform decides whether a page belongs to a supported issue
// tracker and derives a stable issue identity from its URL and DOM. All
// platforms share one engine parameterized by a small capability descriptor;
// DOM access is best-effort because host SPAs render asynchronously, so
// callers retry extraction on the next navigation or mutation tick instead of
// failing once.
package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// issueKeyPattern matches tracker issue keys like PROJ-42.
var issueKeyPattern = regexp.MustCompile(`^[A-Z]+-\d+$`)

// Descriptor captures everything the engine needs to know about one platform.
type Descriptor struct {
	// Name identifies the platform ("linear", "jira", "plane", "github").
	Name string

	// ControlID is the fixed DOM element id of the injected control on this
	// platform. Its presence in the document is the sole existence signal.
	ControlID string

	// IsIssuePage reports whether the URL points at a trackable issue. It is
	// a pure function of the URL.
	IsIssuePage func(u *url.URL) bool

	// ExtractIdentity derives the issue identity from URL and DOM. It
	// returns nil when no stable identity can be derived yet.
	ExtractIdentity func(u *url.URL, doc *goquery.Document) *models.IssueIdentity

	// ExtractTitle reads the issue title from the DOM, or "" when the host
	// has not rendered it yet.
	ExtractTitle func(doc *goquery.Document) string

	// FindAnchor locates the host element the control is injected next to.
	FindAnchor func(doc *goquery.Document) *goquery.Selection

	// StyleSource locates a structurally analogous host element whose style
	// classes the control clones so it blends into the host design system.
	// Extraction is best-effort: when it fails the control is created
	// unstyled.
	StyleSource func(doc *goquery.Document) *goquery.Selection
}

// All lists the supported platforms in match order. Plane is last because it
// is self-hosted and recognized by URL shape rather than host name.
func All() []*Descriptor {
	return []*Descriptor{Linear(), Jira(), GitHub(), Plane()}
}

// Match returns the descriptor responsible for rawURL, or nil when the page
// belongs to no supported platform.
func Match(u *url.URL) *Descriptor {
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "linear.app":
		return Linear()
	case strings.HasSuffix(host, ".atlassian.net"):
		return Jira()
	case host == "github.com":
		return GitHub()
	}

	// Plane instances are self-hosted under arbitrary hosts.
	plane := Plane()
	if plane.IsIssuePage(u) {
		return plane
	}
	return nil
}

// Resolve matches rawURL to a platform and extracts the issue identity from
// the given DOM snapshot. A nil identity with a non-nil descriptor means the
// page is on a supported platform but is either not an issue page or has not
// rendered enough DOM to identify the issue yet.
func Resolve(rawURL, htmlText string) (*Descriptor, *models.IssueIdentity, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}

	d := Match(u)
	if d == nil || !d.IsIssuePage(u) {
		return d, nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return d, nil, err
	}
	return d, d.ExtractIdentity(u, doc), nil
}

// projectPrefix returns the leading uppercase-letter run of an issue key,
// e.g. "ST" for "ST-583".
func projectPrefix(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] < 'A' || key[i] > 'Z' {
			return key[:i]
		}
	}
	return key
}

// firstText returns the trimmed text of the first selector in selectors that
// matches a non-empty node.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// pathSegments splits a URL path into its non-empty segments.
func pathSegments(u *url.URL) []string {
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
