// Package provision sequences the full first-boot provisioning run.
package provision

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/log"
)

// NetworkConfigurer applies the static network configuration, if any.
type NetworkConfigurer interface {
	Apply(ctx context.Context, network *config.StaticNetwork) error
}

// StorageProvisioner extends the local storage.
type StorageProvisioner interface {
	Provision(ctx context.Context) error
}

// PackageUpdater updates OS and application packages.
type PackageUpdater interface {
	WaitSystemUpdate(ctx context.Context) error
	UpdateApplication(ctx context.Context, pkgs []string, serviceUnit string) error
}

// SecretsRotator regenerates the appliance credentials.
type SecretsRotator interface {
	Rotate(ctx context.Context) error
}

// AppConfigPatcher patches the installed application configuration.
type AppConfigPatcher interface {
	Apply(ctx context.Context) error
}

// ServiceConfig is the configuration for the provisioning service.
type ServiceConfig struct {
	Config    *config.Config
	Network   NetworkConfigurer
	Storage   StorageProvisioner
	Packages  PackageUpdater
	Secrets   SecretsRotator
	AppConfig AppConfigPatcher
	Logger    log.Logger
	Out       io.Writer
}

func (c *ServiceConfig) defaults() error {
	if c.Config == nil {
		return fmt.Errorf("config is required")
	}
	if c.Network == nil {
		return fmt.Errorf("network configurer is required")
	}
	if c.Storage == nil {
		return fmt.Errorf("storage provisioner is required")
	}
	if c.Packages == nil {
		return fmt.Errorf("package updater is required")
	}
	if c.Secrets == nil {
		return fmt.Errorf("secrets rotator is required")
	}
	if c.AppConfig == nil {
		return fmt.Errorf("app config patcher is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Provision"})
	if c.Out == nil {
		c.Out = os.Stdout
	}
	return nil
}

// Service handles the provisioning run business logic.
type Service struct {
	cfg       *config.Config
	network   NetworkConfigurer
	storage   StorageProvisioner
	packages  PackageUpdater
	secrets   SecretsRotator
	appConfig AppConfigPatcher
	logger    log.Logger
	out       io.Writer
}

// NewService creates a new provisioning service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		cfg:       cfg.Config,
		network:   cfg.Network,
		storage:   cfg.Storage,
		packages:  cfg.Packages,
		secrets:   cfg.Secrets,
		appConfig: cfg.AppConfig,
		logger:    cfg.Logger,
		out:       cfg.Out,
	}, nil
}

// Run executes the provisioning phases in their fixed order. The first fatal
// step failure aborts everything downstream. There is no rollback: an aborted
// run leaves the appliance partially provisioned, the journal has the detail.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Infof("Starting first boot provisioning")

	if err := s.network.Apply(ctx, s.cfg.Network); err != nil {
		return err
	}

	if err := s.packages.WaitSystemUpdate(ctx); err != nil {
		return err
	}

	if err := s.storage.Provision(ctx); err != nil {
		return err
	}

	if err := s.packages.UpdateApplication(ctx, s.cfg.Packages.Install, s.cfg.Packages.ServiceUnit); err != nil {
		return err
	}

	if err := s.secrets.Rotate(ctx); err != nil {
		return err
	}

	if err := s.appConfig.Apply(ctx); err != nil {
		return err
	}

	s.logger.Infof("Provisioning finished")
	fmt.Fprintf(s.out, "\nProvisioning complete. Reboot the appliance to finish: sudo reboot\n")

	return nil
}
