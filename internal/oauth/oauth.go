// Package oauth drives the PKCE authorization-code flow against a solidtime
// instance and performs refresh-token grants for the rest of the companion.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// FlowState tracks the authorization flow for one login attempt.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitingRedirect
	StateExchanging
	StateAuthenticated
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting-redirect"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrStateMismatch indicates the callback carried a state value different from
// the one generated for this attempt (possible CSRF or user cancellation).
var ErrStateMismatch = errors.New("authorization state mismatch")

// Driver runs one authorization-code exchange at a time.
type Driver struct {
	conf *oauth2.Config

	mu         sync.Mutex
	state      FlowState
	oauthState string
	verifier   string
}

// NewDriver configures a driver for the given instance endpoint and client id.
// redirectURL must be a URL owned by the companion (the daemon's loopback
// callback listener).
func NewDriver(endpoint, clientID, redirectURL string) *Driver {
	return &Driver{
		conf: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURL,
			Scopes:      []string{"*"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoint + "/oauth/authorize",
				TokenURL: endpoint + "/oauth/token",
			},
		},
	}
}

// State returns the current flow state.
func (d *Driver) State() FlowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Begin generates a fresh state string and code verifier and returns the
// authorization URL the user's browser must be sent to. The S256 challenge in
// the URL is the URL-safe base64 (no padding) SHA-256 digest of the verifier.
func (d *Driver) Begin() (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return d.begin(state, oauth2.GenerateVerifier()), nil
}

func (d *Driver) begin(state, verifier string) string {
	d.mu.Lock()
	d.state = StateAwaitingRedirect
	d.oauthState = state
	d.verifier = verifier
	d.mu.Unlock()

	return d.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// HandleCallback validates the redirect the authorization server sent the
// browser back with and exchanges the code for tokens. No partial session is
// ever produced: any validation or exchange failure leaves the flow failed.
func (d *Driver) HandleCallback(ctx context.Context, callbackURL string) (*models.Session, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		d.fail()
		return nil, fmt.Errorf("failed to parse callback URL: %w", err)
	}
	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		d.fail()
		return nil, fmt.Errorf("authorization denied: %s", errCode)
	}

	d.mu.Lock()
	expectedState := d.oauthState
	verifier := d.verifier
	awaiting := d.state == StateAwaitingRedirect
	d.mu.Unlock()

	if !awaiting {
		return nil, fmt.Errorf("no authorization in progress (state %s)", d.State())
	}
	if q.Get("state") != expectedState {
		d.fail()
		return nil, ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		d.fail()
		return nil, errors.New("authorization callback missing code")
	}

	d.setState(StateExchanging)

	token, err := d.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		d.fail()
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	d.setState(StateAuthenticated)
	return &models.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// RefreshSession performs a refresh-token grant with the same client id.
// It implements session.Refresher for the background daemon.
func (d *Driver) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	src := d.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	s := &models.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	// Servers that do not rotate refresh tokens omit the field in the
	// response; keep using the old one.
	if s.RefreshToken == "" {
		s.RefreshToken = refreshToken
	}
	return s, nil
}

func (d *Driver) setState(s FlowState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) fail() {
	d.setState(StateFailed)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
