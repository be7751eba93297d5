// Package session owns the token pair shared by every companion context. It
// mirrors the durable store into in-memory cells, keeps them fresh through
// store change notifications, and coordinates refreshes so that only one
// exchange is in flight per process.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/store"
)

// ErrUnauthenticated is returned when no refresh token is available and the
// user must run the login flow again.
var ErrUnauthenticated = errors.New("not authenticated, please log in")

// Refresher exchanges a refresh token for a fresh token pair. The background
// daemon uses the OAuth driver directly; non-privileged contexts go through
// the bridge to the daemon.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
}

// Manager holds the reactive token cells for one process.
type Manager struct {
	store     *store.Store
	refresher Refresher

	mu      sync.RWMutex
	current models.Session

	group  singleflight.Group
	cancel func()
}

// NewManager initializes the cells from the durable store and subscribes to
// its change notifications so tokens refreshed in another context become
// visible here without polling.
func NewManager(st *store.Store, refresher Refresher) *Manager {
	m := &Manager{
		store:     st,
		refresher: refresher,
		current: models.Session{
			AccessToken:  st.Get(store.KeyAccessToken),
			RefreshToken: st.Get(store.KeyRefreshToken),
		},
	}

	changes, cancel := st.Subscribe()
	m.cancel = cancel
	go m.watch(changes)

	return m
}

func (m *Manager) watch(changes <-chan store.Change) {
	for c := range changes {
		if c.Key != store.KeyAccessToken && c.Key != store.KeyRefreshToken {
			continue
		}
		m.mu.Lock()
		switch c.Key {
		case store.KeyAccessToken:
			m.current.AccessToken = c.Value
		case store.KeyRefreshToken:
			m.current.RefreshToken = c.Value
		}
		// A removed refresh token means logged out everywhere.
		if m.current.RefreshToken == "" {
			m.current.AccessToken = ""
		}
		m.mu.Unlock()
	}
}

// Session returns the current token pair.
func (m *Manager) Session() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// AccessToken returns the current access token, possibly empty.
func (m *Manager) AccessToken() string {
	return m.Session().AccessToken
}

// LoggedIn reports whether a refreshable session exists.
func (m *Manager) LoggedIn() bool {
	return m.Session().LoggedIn()
}

// SetSession persists a freshly obtained token pair, making it visible to all
// contexts through the durable store.
func (m *Manager) SetSession(s models.Session) error {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	return m.store.SetMany(map[string]string{
		store.KeyAccessToken:  s.AccessToken,
		store.KeyRefreshToken: s.RefreshToken,
	})
}

// Clear forgets both tokens, locally and in the durable store.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.current = models.Session{}
	m.mu.Unlock()

	return m.store.Delete(store.KeyAccessToken, store.KeyRefreshToken)
}

// Refresh obtains a fresh access token. Concurrent callers share a single
// in-flight exchange and observe the same outcome. Without a refresh token no
// network call is made: tokens are cleared and ErrUnauthenticated returned.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	token, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		refreshToken := m.Session().RefreshToken
		if refreshToken == "" {
			if err := m.Clear(); err != nil {
				return "", fmt.Errorf("failed to clear tokens: %w", err)
			}
			return "", ErrUnauthenticated
		}

		fresh, err := m.refresher.RefreshSession(ctx, refreshToken)
		if err != nil {
			// A failed refresh deterministically clears credentials so later
			// calls fail fast instead of spinning.
			if clearErr := m.Clear(); clearErr != nil {
				return "", errors.Join(err, clearErr)
			}
			return "", fmt.Errorf("failed to refresh session: %w", err)
		}

		if err := m.SetSession(*fresh); err != nil {
			return "", fmt.Errorf("failed to persist refreshed session: %w", err)
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// Close detaches the manager from store notifications.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
