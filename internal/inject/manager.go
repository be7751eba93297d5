package inject

import (
	"context"
	"sync"
)

// Manager owns one Controller per browser tab and routes tab events to it.
type Manager struct {
	actions Actions
	send    func(tabID string, d Directive)

	mu       sync.Mutex
	tabs     map[string]*Controller
	enricher Enricher
}

// NewManager creates a manager delivering directives through send.
func NewManager(actions Actions, send func(tabID string, d Directive)) *Manager {
	return &Manager{
		actions: actions,
		send:    send,
		tabs:    make(map[string]*Controller),
	}
}

// SetEnricher installs an optional identity enricher on controllers created
// from now on. Call before serving events.
func (m *Manager) SetEnricher(e Enricher) {
	m.mu.Lock()
	m.enricher = e
	m.mu.Unlock()
}

// HandleEvent dispatches ev to the tab's controller, creating it on first
// contact. Each controller serializes its own events; no ordering holds
// between tabs.
func (m *Manager) HandleEvent(ctx context.Context, tabID string, ev Event) {
	m.mu.Lock()
	c, ok := m.tabs[tabID]
	if !ok {
		c = NewController(m.actions, func(d Directive) { m.send(tabID, d) })
		c.enrich = m.enricher
		m.tabs[tabID] = c
	}
	m.mu.Unlock()

	c.HandleEvent(ctx, ev)
}

// DropTab discards the controller of a closed tab.
func (m *Manager) DropTab(tabID string) {
	m.mu.Lock()
	delete(m.tabs, tabID)
	m.mu.Unlock()
}
