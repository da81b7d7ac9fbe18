// Package fake provides a systemd.Manager that records unit operations
// instead of talking to D-Bus.
package fake

import (
	"context"
	"sync"
)

// Manager is a fake implementation of systemd.Manager.
type Manager struct {
	mu  sync.Mutex
	ops []string
	// RestartErrs maps a unit name to the error its restart must return.
	RestartErrs map[string]error
	// ReloadErr is the error Reload must return.
	ReloadErr error
}

// NewManager creates a new fake systemd manager.
func NewManager() *Manager {
	return &Manager{RestartErrs: map[string]error{}}
}

func (m *Manager) RestartUnit(_ context.Context, unit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, "restart "+unit)
	return m.RestartErrs[unit]
}

func (m *Manager) Reload(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, "daemon-reload")
	return m.ReloadErr
}

// Ops returns the recorded operations in order.
func (m *Manager) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]string, len(m.ops))
	copy(ops, m.ops)
	return ops
}
