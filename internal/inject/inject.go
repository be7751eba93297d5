// Package inject keeps one tracking control alive inside each foreign issue
// page. The browser side of the bridge is deliberately dumb: it ships page
// snapshots and events here and executes the directives it gets back, so the
// whole injection state machine lives in this package and can run against
// adversarial, mutating host DOM trees.
package inject

import (
	"context"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// State of the per-tab injection state machine.
type State int

const (
	StateNoControl State = iota
	StatePendingAnchor
	StateInjected
)

func (s State) String() string {
	switch s {
	case StateNoControl:
		return "no-control"
	case StatePendingAnchor:
		return "pending-anchor"
	case StateInjected:
		return "injected"
	default:
		return "unknown"
	}
}

// EventKind discriminates tab events.
type EventKind string

const (
	// EventNavigated is an explicit navigation signal (popstate or a full
	// page load observed by the tab client).
	EventNavigated EventKind = "navigated"

	// EventSnapshot carries the current DOM after a mutation batch. SPA
	// navigations produce no native signal, so URL changes are detected by
	// diffing consecutive snapshots.
	EventSnapshot EventKind = "snapshot"

	// EventClicked reports a user click on the injected control.
	EventClicked EventKind = "clicked"
)

// Event is one observation from a tab.
type Event struct {
	Kind EventKind `json:"kind"`
	URL  string    `json:"url"`
	HTML string    `json:"html,omitempty"`
}

// Action discriminates directives sent back to a tab.
type Action string

const (
	ActionInject     Action = "inject"
	ActionRemove     Action = "remove"
	ActionSetEnabled Action = "setEnabled"
	ActionNotify     Action = "notify"
)

// Directive instructs the tab client to mutate the host page.
type Directive struct {
	Action    Action `json:"action"`
	ControlID string `json:"controlId,omitempty"`

	// AnchorPath is a CSS path to the host element the control is inserted
	// after (inject only).
	AnchorPath string `json:"anchorPath,omitempty"`

	// Classes are style classes cloned from a host analog element; empty
	// means the control is created unstyled (inject only).
	Classes []string `json:"classes,omitempty"`

	// Label is the control caption, "Start Tracking" or "Stop Tracking".
	Label string `json:"label,omitempty"`

	Enabled bool   `json:"enabled,omitempty"`
	Message string `json:"message,omitempty"`
}

// Control captions.
const (
	LabelStart = "Start Tracking"
	LabelStop  = "Stop Tracking"
)

// Actions are the timer operations available to the injected control's click
// handler. Implemented by the tracker.
type Actions interface {
	IsTracking(ctx context.Context) (bool, error)
	StartForIssue(ctx context.Context, id *models.IssueIdentity) error
	StopActive(ctx context.Context) error
}

// Enricher refines an extracted identity through a platform API right before
// it is handed to the timer. Implementations must leave the identity usable
// when the lookup fails.
type Enricher interface {
	Enrich(ctx context.Context, id *models.IssueIdentity)
}
