// Package systemd controls service units over the system D-Bus. Restarting
// the updated application and the SSH daemon goes through here instead of
// shelling out to systemctl, so the result of the job is observed directly.
package systemd

import (
	"context"
	"fmt"

	sdbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/slok/firstboot/internal/log"
)

// Manager manages systemd service units.
type Manager interface {
	// RestartUnit restarts a unit and waits for the job result.
	RestartUnit(ctx context.Context, unit string) error
	// Reload reloads the systemd manager configuration (daemon-reload).
	Reload(ctx context.Context) error
}

// DBusManagerConfig is the configuration for the D-Bus manager.
type DBusManagerConfig struct {
	Logger log.Logger
}

func (c *DBusManagerConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "systemd.DBusManager"})
	return nil
}

// DBusManager is a Manager implementation over the systemd D-Bus API.
type DBusManager struct {
	conn   *sdbus.Conn
	logger log.Logger
}

// NewDBusManager creates a new manager connected to the system bus.
func NewDBusManager(ctx context.Context, cfg DBusManagerConfig) (*DBusManager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	conn, err := sdbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not connect to systemd: %w", err)
	}

	return &DBusManager{conn: conn, logger: cfg.Logger}, nil
}

// Close closes the D-Bus connection.
func (m *DBusManager) Close() { m.conn.Close() }

func (m *DBusManager) RestartUnit(ctx context.Context, unit string) error {
	m.logger.Debugf("Restarting unit %s", unit)

	resultCh := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, "replace", resultCh); err != nil {
		return fmt.Errorf("could not restart %s: %w", unit, err)
	}

	select {
	case result := <-resultCh:
		if result != "done" {
			return fmt.Errorf("restart of %s finished with result %q", unit, result)
		}
	case <-ctx.Done():
		return fmt.Errorf("restart of %s cancelled: %w", unit, ctx.Err())
	}

	return nil
}

func (m *DBusManager) Reload(ctx context.Context) error {
	m.logger.Debugf("Reloading systemd manager configuration")

	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("could not reload systemd: %w", err)
	}

	return nil
}
