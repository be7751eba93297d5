package inject

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"

	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/platform"
)

const (
	// anchorTimeout bounds the anchor search after a navigation; past it the
	// injection is silently abandoned until the next navigation.
	anchorTimeout = 5 * time.Second

	// frameInterval throttles mutation-triggered checks to roughly one per
	// animation frame so they cannot starve the tab.
	frameInterval = 16 * time.Millisecond

	// reentryDelay suppresses watchdog checks right after an injection,
	// because the injection itself mutates the host DOM.
	reentryDelay = 100 * time.Millisecond
)

// Controller runs the injection state machine for a single tab.
type Controller struct {
	actions Actions
	enrich  Enricher
	send    func(Directive)
	now     func() time.Time

	// mu serializes events for this tab. The bridge delivers them from
	// concurrent HTTP handler goroutines, and a click holds the machine
	// through network I/O.
	mu sync.Mutex

	state    State
	desc     *platform.Descriptor
	identity *models.IssueIdentity

	currentURL  string
	fingerprint uint64

	anchorDeadline time.Time
	lastCheck      time.Time
	suppressUntil  time.Time
}

// NewController creates a controller that emits directives through send.
func NewController(actions Actions, send func(Directive)) *Controller {
	return &Controller{
		actions: actions,
		send:    send,
		now:     time.Now,
	}
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleEvent advances the state machine with one tab observation.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Kind == EventClicked {
		c.handleClick(ctx)
		return
	}

	fp := xxhash.Sum64String(ev.HTML)
	urlChanged := ev.URL != c.currentURL
	mutated := fp != c.fingerprint
	if ev.Kind == EventSnapshot && !urlChanged && !mutated {
		return
	}
	c.currentURL = ev.URL
	c.fingerprint = fp

	u, err := url.Parse(ev.URL)
	if err != nil {
		// A tab URL that does not parse cannot be an issue page.
		c.teardown()
		return
	}

	d := platform.Match(u)
	if d == nil || !d.IsIssuePage(u) {
		c.teardown()
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(ev.HTML))
	if err != nil {
		return
	}

	identity := d.ExtractIdentity(u, doc)
	navigated := urlChanged || ev.Kind == EventNavigated

	if navigated {
		// Navigating to a different issue recreates the control; navigating
		// within the same issue leaves it alone.
		if c.state == StateInjected && !sameIssue(c.identity, identity) {
			c.send(Directive{Action: ActionRemove, ControlID: c.desc.ControlID})
			c.state = StateNoControl
		}
		// Every navigation restarts the bounded anchor wait.
		if c.state != StateInjected {
			c.state = StatePendingAnchor
			c.anchorDeadline = c.now().Add(anchorTimeout)
		}
		c.desc = d
	}
	if identity != nil {
		c.identity = identity
		c.desc = d
	}

	switch c.state {
	case StateNoControl:
		// Anchor search timed out earlier; wait for the next navigation.

	case StatePendingAnchor:
		c.tryInject(ctx, d, doc, navigated)

	case StateInjected:
		c.watchdog(ctx, d, doc)
	}
}

func sameIssue(a, b *models.IssueIdentity) bool {
	return a != nil && b != nil && a.IssueKey == b.IssueKey
}

// teardown removes any existing control and resets to NO_CONTROL.
func (c *Controller) teardown() {
	if c.state != StateNoControl && c.desc != nil {
		c.send(Directive{Action: ActionRemove, ControlID: c.desc.ControlID})
	}
	c.state = StateNoControl
	c.identity = nil
}

// tryInject attempts one anchor search and, on success, injects the control.
// force bypasses the frame throttle for explicit navigations.
func (c *Controller) tryInject(ctx context.Context, d *platform.Descriptor, doc *goquery.Document, force bool) {
	now := c.now()
	if !force && now.Sub(c.lastCheck) < frameInterval {
		return
	}
	c.lastCheck = now

	if now.After(c.anchorDeadline) {
		// Host never rendered an anchor; give up silently until the next
		// navigation.
		c.state = StateNoControl
		return
	}
	if c.identity == nil {
		return
	}

	// At most one live control per tab.
	if doc.Find("#" + d.ControlID).Length() > 0 {
		c.state = StateInjected
		return
	}

	anchor := d.FindAnchor(doc)
	if anchor == nil || anchor.Length() == 0 {
		return
	}

	tracking, err := c.actions.IsTracking(ctx)
	if err != nil {
		log.Printf("inject: failed to query tracking state: %v", err)
	}

	c.send(Directive{
		Action:     ActionInject,
		ControlID:  d.ControlID,
		AnchorPath: CSSPath(anchor),
		Classes:    cloneClasses(d, doc),
		Label:      label(tracking),
	})
	c.state = StateInjected
	c.suppressUntil = c.now().Add(reentryDelay)
}

// watchdog re-injects the control when a host mutation removed it. Checks are
// throttled to one per frame and suppressed briefly after our own injection
// to avoid feedback loops.
func (c *Controller) watchdog(ctx context.Context, d *platform.Descriptor, doc *goquery.Document) {
	now := c.now()
	if now.Before(c.suppressUntil) {
		return
	}
	if now.Sub(c.lastCheck) < frameInterval {
		return
	}
	c.lastCheck = now

	if doc.Find("#"+d.ControlID).Length() > 0 {
		return
	}

	// REMOVED_BY_HOST: still an issue page, control gone; re-enter the
	// anchor search with a fresh deadline.
	c.state = StatePendingAnchor
	c.anchorDeadline = now.Add(anchorTimeout)
	c.tryInject(ctx, d, doc, true)
}

// handleClick runs the control's click action: stop when tracking, start
// otherwise. The control is disabled for the duration and re-enabled no
// matter the outcome, then fully re-rendered so label and icon reflect the
// new remote state. A second click arriving while one is in flight blocks on
// mu and then sees PENDING_ANCHOR, so it is dropped.
func (c *Controller) handleClick(ctx context.Context) {
	if c.state != StateInjected || c.desc == nil {
		return
	}

	controlID := c.desc.ControlID
	c.send(Directive{Action: ActionSetEnabled, ControlID: controlID, Enabled: false})

	err := c.clickAction(ctx)
	if err != nil {
		c.send(Directive{Action: ActionNotify, ControlID: controlID, Message: userMessage(err)})
	}

	c.send(Directive{Action: ActionSetEnabled, ControlID: controlID, Enabled: true})

	// Full re-render: remove and let the next mutation tick re-inject with a
	// freshly queried tracking state.
	c.send(Directive{Action: ActionRemove, ControlID: controlID})
	c.state = StatePendingAnchor
	c.anchorDeadline = c.now().Add(anchorTimeout)
}

func (c *Controller) clickAction(ctx context.Context) error {
	tracking, err := c.actions.IsTracking(ctx)
	if err != nil {
		return err
	}
	if tracking {
		return c.actions.StopActive(ctx)
	}
	if c.identity == nil {
		return errNoIdentity
	}
	if c.enrich != nil {
		c.enrich.Enrich(ctx, c.identity)
	}
	return c.actions.StartForIssue(ctx, c.identity)
}

func label(tracking bool) string {
	if tracking {
		return LabelStop
	}
	return LabelStart
}

func cloneClasses(d *platform.Descriptor, doc *goquery.Document) []string {
	src := d.StyleSource(doc)
	if src == nil || src.Length() == 0 {
		return nil
	}
	class, ok := src.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(class)
}
