// Package network applies the appliance network configuration. When a static
// configuration is supplied the interface config file is rewritten and the
// link is bounced so the new addressing takes effect; otherwise the interface
// is left on its dynamic configuration.
package network

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/step"
)

// LinkManager manipulates network links.
type LinkManager interface {
	FlushAddresses(name string) error
	SetDown(name string) error
	SetUp(name string) error
}

type netlinkManager bool

// NewNetlinkManager returns a LinkManager based on netlink.
func NewNetlinkManager() LinkManager { return netlinkManager(true) }

func (netlinkManager) FlushAddresses(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("could not get link %s: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("could not list addresses of %s: %w", name, err)
	}

	for _, addr := range addrs {
		if err := netlink.AddrDel(link, &addr); err != nil {
			return fmt.Errorf("could not flush address %s from %s: %w", addr.IP, name, err)
		}
	}

	return nil
}

func (netlinkManager) SetDown(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("could not get link %s: %w", name, err)
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("could not bring %s down: %w", name, err)
	}
	return nil
}

func (netlinkManager) SetUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("could not get link %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("could not bring %s up: %w", name, err)
	}
	return nil
}

// ConfiguratorConfig is the configuration for the network configurator.
type ConfiguratorConfig struct {
	Steps          *step.Runner
	Links          LinkManager
	InterfacesPath string
	Logger         log.Logger
}

func (c *ConfiguratorConfig) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Links == nil {
		c.Links = NewNetlinkManager()
	}
	if c.InterfacesPath == "" {
		c.InterfacesPath = "/etc/network/interfaces"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "network.Configurator"})
	return nil
}

// Configurator brings appliance networking online.
type Configurator struct {
	steps          *step.Runner
	links          LinkManager
	interfacesPath string
	logger         log.Logger
}

// NewConfigurator creates a new network configurator.
func NewConfigurator(cfg ConfiguratorConfig) (*Configurator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Configurator{
		steps:          cfg.Steps,
		links:          cfg.Links,
		interfacesPath: cfg.InterfacesPath,
		logger:         cfg.Logger,
	}, nil
}

// Apply rewrites the interface configuration and bounces the link when a
// static configuration is present. A nil static configuration is a no-op.
func (c *Configurator) Apply(ctx context.Context, static *config.StaticNetwork) error {
	if static == nil {
		c.logger.Infof("No static network configuration supplied, keeping dynamic addressing")
		return nil
	}

	return c.steps.Run(ctx, "Configuring static network", step.PolicyFatal, func(ctx context.Context) error {
		if err := static.Validate(); err != nil {
			return err
		}

		rendered := renderInterfaces(static)
		if err := os.WriteFile(c.interfacesPath, []byte(rendered), 0644); err != nil {
			return fmt.Errorf("could not write %s: %w", c.interfacesPath, err)
		}

		if err := c.links.FlushAddresses(static.Interface); err != nil {
			return err
		}
		if err := c.links.SetDown(static.Interface); err != nil {
			return err
		}
		if err := c.links.SetUp(static.Interface); err != nil {
			return err
		}

		c.logger.Infof("Static network applied on %s: %s", static.Interface, static.Address)
		return nil
	})
}

func renderInterfaces(s *config.StaticNetwork) string {
	var b strings.Builder

	b.WriteString("# Managed by firstboot, written once at provisioning time.\n")
	b.WriteString("auto lo\n")
	b.WriteString("iface lo inet loopback\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "auto %s\n", s.Interface)
	fmt.Fprintf(&b, "iface %s inet static\n", s.Interface)
	fmt.Fprintf(&b, "    address %s\n", s.Address)
	fmt.Fprintf(&b, "    netmask %s\n", s.Netmask)
	fmt.Fprintf(&b, "    gateway %s\n", s.Gateway)
	fmt.Fprintf(&b, "    dns-nameservers %s\n", s.DNS)

	return b.String()
}
