// Package session holds the API credential used by the transport guard.
// Capturing and persisting the credential is left to the caller; the guard
// only needs a presence check and a way to drop it.
package session

import (
	"sync"

	"github.com/psantana5/sweepwatch/pkg/logging"
)

// Session is the credential boundary consumed by the transport guard
type Session interface {
	// Credential returns the current API key and whether one is set
	Credential() (string, bool)
	// Logout drops the credential. reason is user-facing.
	Logout(reason string)
}

// Memory is an in-process Session
type Memory struct {
	mu         sync.RWMutex
	key        string
	lastReason string
	onLogout   []func(reason string)
	logger     *logging.Logger
}

// NewMemory creates a session holding key. An empty key means logged out.
func NewMemory(key string, logger *logging.Logger) *Memory {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Memory{key: key, logger: logger.Named("session")}
}

// Credential implements Session
func (m *Memory) Credential() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key, m.key != ""
}

// SetCredential installs a new key and clears the last logout reason
func (m *Memory) SetCredential(key string) {
	m.mu.Lock()
	m.key = key
	m.lastReason = ""
	m.mu.Unlock()
}

// OnLogout registers a hook called after every logout
func (m *Memory) OnLogout(fn func(reason string)) {
	m.mu.Lock()
	m.onLogout = append(m.onLogout, fn)
	m.mu.Unlock()
}

// Logout implements Session. Logging out twice only runs the hooks once.
func (m *Memory) Logout(reason string) {
	m.mu.Lock()
	if m.key == "" {
		m.mu.Unlock()
		return
	}
	m.key = ""
	m.lastReason = reason
	hooks := append([]func(string){}, m.onLogout...)
	m.mu.Unlock()

	m.logger.Error("logged out", logging.Fields{"reason": reason})
	for _, fn := range hooks {
		fn(reason)
	}
}

// LastLogoutReason returns the reason of the most recent logout, if any
func (m *Memory) LastLogoutReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReason
}
