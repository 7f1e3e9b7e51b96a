// internal/session/manager.go
package session

import (
	"github.com/valpere/ScholarNav/internal/utils"
)

// Manager owns exactly one live Session. Replacing it always closes the old
// one before the new one becomes visible.
type Manager struct {
	settings Settings
	current  *Session
	logger   utils.Logger

	refreshes int
}

// NewManager builds the first session from settings.
func NewManager(settings Settings, logger utils.Logger) (*Manager, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	s, err := New(settings, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		settings: settings,
		current:  s,
		logger:   logger,
	}, nil
}

// Session returns the live session. Never nil until Close.
func (m *Manager) Session() *Session {
	return m.current
}

// Settings returns the settings of the live session.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Refreshes returns how many times the session has been replaced.
func (m *Manager) Refreshes() int {
	return m.refreshes
}

// Refresh replaces the session with a fresh one using the same settings.
// Cookies and the browser are discarded; a new User-Agent is chosen unless
// one is pinned.
func (m *Manager) Refresh() (*Session, error) {
	return m.Swap(m.settings)
}

// Swap replaces the session with one built from settings. If the new
// session cannot be built the live one is left in place.
func (m *Manager) Swap(settings Settings) (*Session, error) {
	next, err := New(settings, m.logger)
	if err != nil {
		return nil, err
	}

	old := m.current
	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warnf("failed to close session %s: %v", old.ID(), err)
		}
	}

	m.current = next
	m.settings = settings
	m.refreshes++
	return next, nil
}

// Close closes the live session.
func (m *Manager) Close() error {
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
