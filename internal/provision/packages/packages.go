// Package packages drives OS and application package updates. Package
// operations are owned by the OS package manager: installs are launched
// detached and joined by waiting for the manager process to leave the
// process table, since the job may also have been started by the OS itself
// (unattended upgrades) before this run began.
package packages

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/oscmd"
	"github.com/slok/firstboot/internal/step"
	"github.com/slok/firstboot/internal/systemd"
)

const (
	unattendedUpgradePattern = "unattended-upgrade"
	packageManagerPattern    = "apt-get"
)

// Waiter joins on OS processes by polling the process table.
type Waiter interface {
	WaitFor(ctx context.Context, pattern string) error
	IsRunning(ctx context.Context, pattern string) (bool, error)
}

// UpdaterConfig is the configuration for the package updater.
type UpdaterConfig struct {
	Steps   *step.Runner
	Cmd     oscmd.Runner
	Waiter  Waiter
	Systemd systemd.Manager
	Logger  log.Logger
	// LaunchGrace is how long to wait after launching a detached package
	// operation before polling for it, so the process has time to register
	// in the process table.
	LaunchGrace time.Duration
}

func (c *UpdaterConfig) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Cmd == nil {
		return fmt.Errorf("command runner is required")
	}
	if c.Waiter == nil {
		return fmt.Errorf("process waiter is required")
	}
	if c.Systemd == nil {
		return fmt.Errorf("systemd manager is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "packages.Updater"})
	if c.LaunchGrace == 0 {
		c.LaunchGrace = 3 * time.Second
	}
	return nil
}

// Updater updates OS and application packages.
type Updater struct {
	steps       *step.Runner
	cmd         oscmd.Runner
	waiter      Waiter
	systemd     systemd.Manager
	logger      log.Logger
	launchGrace time.Duration
}

// NewUpdater creates a new package updater.
func NewUpdater(cfg UpdaterConfig) (*Updater, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Updater{
		steps:       cfg.Steps,
		cmd:         cfg.Cmd,
		waiter:      cfg.Waiter,
		systemd:     cfg.Systemd,
		logger:      cfg.Logger,
		launchGrace: cfg.LaunchGrace,
	}, nil
}

// WaitSystemUpdate makes sure the OS unattended update has run before
// provisioning continues. If the update job is not already running it is
// triggered detached, then the run blocks until the job leaves the process
// table.
func (u *Updater) WaitSystemUpdate(ctx context.Context) error {
	return u.steps.Run(ctx, "Waiting for system update to finish", step.PolicyFatal, func(ctx context.Context) error {
		running, err := u.waiter.IsRunning(ctx, unattendedUpgradePattern)
		if err != nil {
			return err
		}
		if !running {
			u.logger.Debugf("Unattended upgrade not running, triggering it")
			if err := u.cmd.Start(ctx, "unattended-upgrade"); err != nil {
				return err
			}
			if err := u.sleep(ctx, u.launchGrace); err != nil {
				return err
			}
		}

		return u.waiter.WaitFor(ctx, unattendedUpgradePattern)
	})
}

// UpdateApplication refreshes the package index, installs the application
// packages one by one, runs best-effort cleanup and restarts the application
// service. Installs are launched detached and joined through the process
// table only: their exit status is not observed.
func (u *Updater) UpdateApplication(ctx context.Context, pkgs []string, serviceUnit string) error {
	err := u.steps.Run(ctx, "Refreshing package index", step.PolicyFatal, func(ctx context.Context) error {
		return u.cmd.Run(ctx, "apt-get", "update")
	})
	if err != nil {
		return err
	}

	for _, pkg := range pkgs {
		pkg := pkg
		err := u.steps.Run(ctx, fmt.Sprintf("Installing %s", pkg), step.PolicyFatal, func(ctx context.Context) error {
			if err := u.cmd.Start(ctx, "apt-get", "install", "-y", pkg); err != nil {
				return err
			}
			if err := u.sleep(ctx, u.launchGrace); err != nil {
				return err
			}
			return u.waiter.WaitFor(ctx, packageManagerPattern)
		})
		if err != nil {
			return err
		}
	}

	// Cleanup is best effort, a failure here never aborts the run.
	err = u.steps.Run(ctx, "Repairing broken packages", step.PolicyTolerated, func(ctx context.Context) error {
		return u.cmd.Run(ctx, "apt-get", "-y", "--fix-broken", "install")
	})
	if err != nil {
		return err
	}
	err = u.steps.Run(ctx, "Removing unused packages", step.PolicyTolerated, func(ctx context.Context) error {
		return u.cmd.Run(ctx, "apt-get", "-y", "autoremove")
	})
	if err != nil {
		return err
	}

	// Upgrades may have replaced unit files, reload before restarting.
	err = u.steps.Run(ctx, "Reloading service units", step.PolicyTolerated, func(ctx context.Context) error {
		return u.systemd.Reload(ctx)
	})
	if err != nil {
		return err
	}

	return u.steps.Run(ctx, fmt.Sprintf("Restarting %s", serviceUnit), step.PolicyFatal, func(ctx context.Context) error {
		return u.systemd.RestartUnit(ctx, serviceUnit)
	})
}

func (u *Updater) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
