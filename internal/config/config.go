// Package config loads the provisioning configuration. The file is optional:
// a missing file means defaults everywhere and dynamic network configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/slok/firstboot/internal/model"
)

// StaticNetwork is an externally supplied static network configuration. Its
// presence switches the appliance from dynamic to static networking.
type StaticNetwork struct {
	Interface string `yaml:"interface"`
	Address   string `yaml:"address"`
	Netmask   string `yaml:"netmask"`
	Gateway   string `yaml:"gateway"`
	DNS       string `yaml:"dns"`
}

// Validate checks the static network values.
func (s *StaticNetwork) Validate() error {
	if s.Interface == "" {
		s.Interface = "eth0"
	}
	if s.Address == "" || s.Netmask == "" || s.Gateway == "" || s.DNS == "" {
		return fmt.Errorf("static network requires address, netmask, gateway and dns: %w", model.ErrNotValid)
	}
	return nil
}

// Storage is the disk extension layout.
type Storage struct {
	Disk          string `yaml:"disk"`
	BootPartition int    `yaml:"boot_partition"`
	DataPartition int    `yaml:"data_partition"`
	VolumeGroup   string `yaml:"volume_group"`
	LogicalVolume string `yaml:"logical_volume"`
	Filesystem    string `yaml:"filesystem"`
	MountPoint    string `yaml:"mount_point"`
	ServiceUser   string `yaml:"service_user"`
}

// Packages is the application package set and its service unit.
type Packages struct {
	Install     []string `yaml:"install"`
	ServiceUnit string   `yaml:"service_unit"`
}

// Secrets holds the credential rotation targets.
type Secrets struct {
	HostKeyPath      string `yaml:"host_key_path"`
	SSHUnit          string `yaml:"ssh_unit"`
	CertPath         string `yaml:"cert_path"`
	CertKeyPath      string `yaml:"cert_key_path"`
	CertCommonName   string `yaml:"cert_common_name"`
	CertValidityDays int    `yaml:"cert_validity_days"`
}

// Setting is a single application settings-table value.
type Setting struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Patch is a text substitution in an application config file.
type Patch struct {
	File string `yaml:"file"`
	Old  string `yaml:"old"`
	New  string `yaml:"new"`
}

// App holds the application configuration patch targets.
type App struct {
	SettingsDBPath string    `yaml:"settings_db_path"`
	Settings       []Setting `yaml:"settings"`
	Patch          *Patch    `yaml:"patch,omitempty"`
	EnvCachePath   string    `yaml:"env_cache_path"`
}

// Config is the full provisioning configuration.
type Config struct {
	Network  *StaticNetwork `yaml:"network,omitempty"`
	Storage  Storage        `yaml:"storage"`
	Packages Packages       `yaml:"packages"`
	Secrets  Secrets        `yaml:"secrets"`
	App      App            `yaml:"app"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Disk:          "/dev/sda",
			BootPartition: 3,
			DataPartition: 4,
			VolumeGroup:   "appliance",
			LogicalVolume: "data",
			Filesystem:    "ext4",
			MountPoint:    "/opt/appliance",
			ServiceUser:   "appliance",
		},
		Packages: Packages{
			Install:     []string{"appliance-core", "appliance-deps"},
			ServiceUnit: "appliance.service",
		},
		Secrets: Secrets{
			HostKeyPath:      "/etc/ssh/ssh_host_ed25519_key",
			SSHUnit:          "ssh.service",
			CertPath:         "/etc/appliance/ssl/cert.pem",
			CertKeyPath:      "/etc/appliance/ssl/key.pem",
			CertCommonName:   "appliance.local",
			CertValidityDays: 825,
		},
		App: App{
			SettingsDBPath: "/var/lib/appliance/settings.db",
			EnvCachePath:   "/var/cache/appliance/env.params",
		},
	}
}

// Load reads the configuration file at path, applying defaults for every
// omitted value. A missing file (or empty path) returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}

	if cfg.Network != nil {
		if err := cfg.Network.Validate(); err != nil {
			return nil, fmt.Errorf("invalid network config: %w", err)
		}
	}

	return cfg, nil
}
