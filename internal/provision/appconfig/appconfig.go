// Package appconfig patches the installed application configuration: its
// settings database, its config file and its cached environment parameters.
package appconfig

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/model"
	"github.com/slok/firstboot/internal/step"
)

// PatcherConfig is the configuration for the application config patcher.
type PatcherConfig struct {
	Steps  *step.Runner
	Logger log.Logger

	SettingsDBPath string
	Settings       []config.Setting
	Patch          *config.Patch
	EnvCachePath   string
}

func (c *PatcherConfig) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "appconfig.Patcher"})
	return nil
}

// Patcher applies the application configuration patches.
type Patcher struct {
	steps  *step.Runner
	logger log.Logger

	settingsDBPath string
	settings       []config.Setting
	patch          *config.Patch
	envCachePath   string
}

// NewPatcher creates a new application config patcher.
func NewPatcher(cfg PatcherConfig) (*Patcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Patcher{
		steps:          cfg.Steps,
		logger:         cfg.Logger,
		settingsDBPath: cfg.SettingsDBPath,
		settings:       cfg.Settings,
		patch:          cfg.Patch,
		envCachePath:   cfg.EnvCachePath,
	}, nil
}

// Apply patches the settings table, the config file and removes the cached
// environment parameters so the application regenerates them on next start.
func (p *Patcher) Apply(ctx context.Context) error {
	if len(p.settings) > 0 {
		err := p.steps.Run(ctx, "Updating application settings", step.PolicyFatal, func(ctx context.Context) error {
			return p.updateSettings(ctx)
		})
		if err != nil {
			return err
		}
	}

	if p.patch != nil {
		err := p.steps.Run(ctx, "Patching application config file", step.PolicyFatal, func(context.Context) error {
			return p.patchConfigFile()
		})
		if err != nil {
			return err
		}
	}

	if p.envCachePath != "" {
		err := p.steps.Run(ctx, "Clearing cached environment parameters", step.PolicyTolerated, func(context.Context) error {
			err := os.Remove(p.envCachePath)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("could not remove %s: %w", p.envCachePath, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Patcher) updateSettings(ctx context.Context) error {
	db, err := sql.Open("sqlite", p.settingsDBPath)
	if err != nil {
		return fmt.Errorf("could not open settings database: %w", err)
	}
	defer db.Close()

	for _, s := range p.settings {
		res, err := db.ExecContext(ctx, `UPDATE settings SET value = ? WHERE name = ?`, s.Value, s.Name)
		if err != nil {
			return fmt.Errorf("could not update setting %q: %w", s.Name, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not check update of setting %q: %w", s.Name, err)
		}
		if rows == 0 {
			return fmt.Errorf("setting %q: %w", s.Name, model.ErrNotFound)
		}
		p.logger.Debugf("Updated application setting %q", s.Name)
	}

	return nil
}

func (p *Patcher) patchConfigFile() error {
	data, err := os.ReadFile(p.patch.File)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", p.patch.File, err)
	}

	content := string(data)
	if !strings.Contains(content, p.patch.Old) {
		// Same semantics as a text substitution tool: nothing to replace is
		// not an error, but worth surfacing.
		p.logger.Warningf("Pattern %q not found in %s, config file left untouched", p.patch.Old, p.patch.File)
		return nil
	}

	content = strings.ReplaceAll(content, p.patch.Old, p.patch.New)

	info, err := os.Stat(p.patch.File)
	if err != nil {
		return fmt.Errorf("could not stat %s: %w", p.patch.File, err)
	}
	if err := os.WriteFile(p.patch.File, []byte(content), info.Mode()); err != nil {
		return fmt.Errorf("could not write %s: %w", p.patch.File, err)
	}

	return nil
}
